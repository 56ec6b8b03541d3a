// Guardrails - account guardrails for tag hygiene and spend
// Render. Check. Enforce.
package main

func main() {
	Execute()
}
