package stack

import (
	"github.com/jaguar-finops/guardrails/budget"
)

// Logical ids and outputs of the budgets stack
const (
	BudgetsStackName = "JaguarFinops-Budgets"
	ResourceBudget   = "FinopsCostCenterBudget"
	OutputBudgetName = "BudgetName"

	TypeBudget = "AWS::Budgets::Budget"
)

// BudgetsStack declares the cost-center budget. Cost filters belong to
// the budget body, which is where budget.Declaration carries them.
func BudgetsStack(target Target, decl budget.Declaration) Stack {
	t := newTemplate("Monthly cost budget for the " + decl.Budget.BudgetName + " cost center")
	t.Resources[ResourceBudget] = Resource{
		Type: TypeBudget,
		Properties: map[string]interface{}{
			"Budget":                       decl.Budget,
			"NotificationsWithSubscribers": decl.NotificationsWithSubscribers,
		},
	}
	t.Outputs[OutputBudgetName] = Output{
		Description: "Name of the cost-center budget",
		Value:       decl.Budget.BudgetName,
	}
	return Stack{Name: BudgetsStackName, Target: target, Template: t}
}
