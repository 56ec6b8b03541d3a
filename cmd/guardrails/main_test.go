package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaguar-finops/guardrails/internal/config"
	"github.com/jaguar-finops/guardrails/stack"
	"github.com/jaguar-finops/guardrails/storage"
	"github.com/jaguar-finops/guardrails/wal"
)

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guardrails.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

// ══════════════════════════════════════════════════════════════════════════════
// Config wiring
// ══════════════════════════════════════════════════════════════════════════════

func TestLoadConfig_Default(t *testing.T) {
	c, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", c.Target.Region)
	assert.Equal(t, config.LedgerBolt, c.Enforcer.Ledger)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := writeConfig(t, `
[enforcer]
ledger = "redis"
`)
	_, err := loadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown ledger")
}

func TestNewApp_FromConfig(t *testing.T) {
	path := writeConfig(t, `
[target]
account = "123456789012"
region = "eu-west-1"

[enforcer]
ledger = "dynamodb"
ledger_table = "guardrails-ledger"
alerts_topic_arn = "arn:aws:sns:eu-west-1:123456789012:TagAlerts"
dead_letter = true

[budget]
amount = 500
`)
	c, err := loadConfig(path)
	require.NoError(t, err)

	app := newApp(c)
	assert.Equal(t, stack.Target{Account: "123456789012", Region: "eu-west-1"}, app.Target())

	stacks, err := app.Stacks()
	require.NoError(t, err)
	enf := stacks[1].Template
	assert.Contains(t, enf.Resources, stack.ResourceLedger)
	assert.Contains(t, enf.Resources, stack.ResourceDeadLetter)
	require.NoError(t, app.Check())

	ec := enforcerConfig(c)
	assert.Equal(t, "arn:aws:sns:eu-west-1:123456789012:TagAlerts", ec.AlertsTopicARN)
	assert.Equal(t, "guardrails-ledger", ec.LedgerTable)
}

func TestEnforcerConfig_LedgerTableOnlyForDynamoDB(t *testing.T) {
	c := config.Default()
	c.Enforcer.LedgerTable = "unused"
	assert.Empty(t, enforcerConfig(c).LedgerTable)
}

func TestNewApp_DeclaresLedgerByDefault(t *testing.T) {
	stacks, err := newApp(config.Default()).Stacks()
	require.NoError(t, err)
	assert.Contains(t, stacks[1].Template.Resources, stack.ResourceLedger)
}

func TestCheckDaemonLedger(t *testing.T) {
	c := config.Default()
	require.NoError(t, checkDaemonLedger(c))

	c.Enforcer.Ledger = config.LedgerMemory
	err := checkDaemonLedger(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "re-alert")
}

func TestOpenLedger(t *testing.T) {
	c := config.Default()
	c.Enforcer.Ledger = config.LedgerMemory
	ledger, err := openLedger(c, nil)
	require.NoError(t, err)
	assert.IsType(t, &storage.MemoryLedger{}, ledger)

	c.Enforcer.Ledger = config.LedgerBolt
	c.Enforcer.LedgerPath = filepath.Join(t.TempDir(), "state", "ledger.db")
	ledger, err = openLedger(c, nil)
	require.NoError(t, err)
	assert.IsType(t, &storage.BoltLedger{}, ledger)
	require.NoError(t, ledger.Close())

	c.Enforcer.Ledger = config.LedgerDynamoDB
	c.Enforcer.LedgerTable = "ledger"
	_, err = openLedger(c, nil)
	require.Error(t, err)
}

// ══════════════════════════════════════════════════════════════════════════════
// Commands
// ══════════════════════════════════════════════════════════════════════════════

func TestRenderCommand(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	out, err := executeCommand(t, "render", "--format", "yaml", "--out", dir)
	require.NoError(t, err)

	for _, name := range []string{
		"JaguarFinops-SCP.template.yaml",
		"JaguarFinops-TagEnforcer.template.yaml",
		"JaguarFinops-Budgets.template.yaml",
		stack.ManifestFile,
	} {
		assert.FileExists(t, filepath.Join(dir, name))
		assert.Contains(t, out, name)
	}
}

func TestRenderCommand_Stdout(t *testing.T) {
	out, err := executeCommand(t, "render", "--format", "json", "--out", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "# JaguarFinops-SCP.template.json")
	assert.Contains(t, out, `"AWSTemplateFormatVersion": "2010-09-09"`)
}

func TestCheckCommand(t *testing.T) {
	out, err := executeCommand(t, "check")
	require.NoError(t, err)
	assert.Equal(t, "ok", strings.TrimSpace(out))
}

func TestSimulateCommand_MissingTags(t *testing.T) {
	simulateTags = nil
	out, err := executeCommand(t, "simulate", "--action", "ec2:RunInstances", "--tag", "Owner=alice")
	require.NoError(t, err)
	assert.Contains(t, out, `"denied": true`)
	assert.Contains(t, out, "CostCenter")
}

func writeJournal(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	w, err := wal.Open(dir)
	require.NoError(t, err)
	require.NoError(t, w.Append(wal.EntryObserved, "tagged", nil))
	require.NoError(t, w.Append(wal.EntryExecuted, "tagged", nil))
	require.NoError(t, w.Append(wal.EntryObserved, "throttled", nil))
	require.NoError(t, w.AppendError(wal.EntryFailed, "throttled", nil, errors.New("SlowDown")))
	require.NoError(t, w.Close())
	return dir
}

func TestJournalCommand(t *testing.T) {
	dir := writeJournal(t)

	out, err := executeCommand(t, "journal", "--dir", dir, "--since", "1h", "--pending=false")
	require.NoError(t, err)
	assert.Contains(t, out, "TYPE")
	assert.Contains(t, out, "executed")
	assert.Contains(t, out, "SlowDown")
}

func TestJournalCommand_Pending(t *testing.T) {
	dir := writeJournal(t)

	out, err := executeCommand(t, "journal", "--dir", dir, "--since", "0s", "--pending")
	require.NoError(t, err)
	assert.Equal(t, "throttled", strings.TrimSpace(out))
}

func TestReadInput_Stdin(t *testing.T) {
	data, err := readInput(strings.NewReader(`{"id":"x"}`), "-")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"x"}`, string(data))

	_, err = readInput(nil, filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
