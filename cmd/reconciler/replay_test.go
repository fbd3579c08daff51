package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"balance_reconciler/internal/domain/entity"
	"balance_reconciler/internal/pkg/utils"
)

const usdcSepolia = "0x1c7d4b196cb0c7b01d743fbc6116a902379c7238"

const recording = `# shield then POI confirmation
{"type":"balance","payload":{"railgunWalletID":"w1","balanceBucket":"ShieldPending","erc20Amounts":[{"tokenAddress":"0x1C7D4B196Cb0C7B01d743Fbc6116a902379C7238","amount":"2500000"}]}}
{"type":"scan","kind":"utxo","payload":{"progress":50,"scanStatus":"Updated"}}
{"payload":{"railgunWalletID":"w1","balanceBucket":"Spendable","erc20Amounts":[{"tokenAddress":"0x1C7D4B196Cb0C7B01d743Fbc6116a902379C7238","amount":"0x2625a0"}]}}
{"type":"balance","payload":{"balanceBucket":"Spendable","erc20Amounts":[]}}
{"type":"scan","kind":"merkle","payload":{}}
{"type":"noise","payload":{}}
`

func writeRecording(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(recording), 0o600))
	return path
}

func TestReplayEvents(t *testing.T) {
	events, err := utils.LoadEventsFromJSONL(writeRecording(t))
	require.NoError(t, err)
	require.Len(t, events, 6)

	report := replayEvents(events)
	assert.Equal(t, 6, report.Events)
	assert.Equal(t, 3, report.Applied)
	assert.Equal(t, 1, report.Discarded, "an event without a wallet id is discarded")
	assert.Len(t, report.Skipped, 2)

	require.Len(t, report.Transitions, 1)
	tr := report.Transitions[0]
	assert.Equal(t, "w1", tr.WalletID)
	assert.Equal(t, entity.BucketShieldPending, tr.From)
	assert.Equal(t, entity.BucketSpendable, tr.To)
	assert.Equal(t, usdcSepolia, tr.TokenAddress)
	assert.Equal(t, "2500000", tr.Amount)

	spendable := report.Snapshot["w1"][entity.BucketSpendable]
	require.NotNil(t, spendable)
	assert.Len(t, spendable.UniqueEntries(), 1)

	assert.Equal(t, entity.ScanPhaseInProgress, report.Scans[0].Phase)
	assert.InDelta(t, 0.5, report.Scans[0].Progress, 1e-9)
	assert.Equal(t, entity.ScanPhaseIdle, report.Scans[1].Phase)
}

func TestReplayCommand_Text(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"replay", writeRecording(t)})
	require.NoError(t, cmd.Execute())

	text := out.String()
	assert.Contains(t, text, "events: 6 applied: 3 discarded: 1")
	assert.Contains(t, text, "wallet w1")
	assert.Contains(t, text, "Spendable (1)")
	assert.Contains(t, text, usdcSepolia+" 2500000")
	assert.Contains(t, text, "transition w1 ShieldPending -> Spendable")
	assert.Contains(t, text, "scan UTXO InProgress 50%")
}

func TestReplayCommand_JSON(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"replay", "--format", "json", writeRecording(t)})
	require.NoError(t, cmd.Execute())

	var decoded map[string]any
	require.NoError(t, jsoniter.Unmarshal(out.Bytes(), &decoded))
	assert.EqualValues(t, 6, decoded["events"])
	assert.Len(t, decoded["transitions"], 1)
}

func TestReplayCommand_BadFormat(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"replay", "--format", "xml", writeRecording(t)})
	assert.Error(t, cmd.Execute())
}

func TestListenAddr(t *testing.T) {
	assert.Equal(t, ":8080", listenAddr("8080"))
	assert.Equal(t, "127.0.0.1:9000", listenAddr("127.0.0.1:9000"))
}
