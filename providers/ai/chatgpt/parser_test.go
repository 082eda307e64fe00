package chatgpt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/leofalp/webchat/providers/ai"
)

type parsed struct {
	deltas []Delta
	errs   []error
}

func parseAll(lines []string, conv *ai.Conversation) parsed {
	var out parsed
	for _, line := range lines {
		for delta, err := range ParseLine([]byte(line), conv) {
			if err != nil {
				out.errs = append(out.errs, err)
				continue
			}
			out.deltas = append(out.deltas, delta)
		}
	}
	return out
}

func texts(deltas []Delta) []string {
	var out []string
	for _, delta := range deltas {
		if delta.Kind == DeltaText {
			out = append(out, delta.Text)
		}
	}
	return out
}

func TestParseLine_TerminatorWithoutFinish(t *testing.T) {
	conv := ai.NewConversation("", "")
	got := parseAll([]string{
		`data: {"v":"Hello"}`,
		`data: {"v":" world"}`,
		`data: [DONE]`,
	}, conv)

	assert.Equal(t, []string{"Hello", " world"}, texts(got.deltas))
	require.Len(t, got.errs, 1)
	assert.ErrorIs(t, got.errs[0], ai.ErrAmbiguousTermination)
	assert.ErrorIs(t, got.errs[0], ai.ErrStreamProtocol)
	assert.Equal(t, ai.FinishError, conv.FinishReason)
}

func TestParseLine_TerminatorAfterFinish(t *testing.T) {
	conv := ai.NewConversation("", "")
	got := parseAll([]string{
		`data: {"v":"Hi"}`,
		`data: {"v":[{"p":"/message/metadata","v":{"finish_details":{"type":"stop"}}}]}`,
		`data: [DONE]`,
	}, conv)

	assert.Equal(t, []string{"Hi"}, texts(got.deltas))
	assert.Empty(t, got.errs)
	assert.Equal(t, ai.FinishStop, conv.FinishReason)
}

func TestParseLine_MessageSnapshot(t *testing.T) {
	conv := ai.NewConversation("", "p0")
	conv.IsRecipient = false

	got := parseAll([]string{
		`data: {"v":{"message":{"recipient":"all","author":{"role":"assistant"},"id":"m1"},"conversation_id":"c1"}}`,
	}, conv)

	assert.Equal(t, "c1", conv.ConversationID)
	assert.True(t, conv.IsRecipient)
	assert.Equal(t, "m1", conv.MessageID)
	assert.Equal(t, []Delta{{Kind: DeltaConversation, ConversationID: "c1"}}, got.deltas)
}

func TestParseLine_SnapshotKeepsFirstConversationID(t *testing.T) {
	conv := ai.NewConversation("c0", "p0")
	got := parseAll([]string{
		`data: {"v":{"message":{"author":{"role":"user"},"id":"u1"},"conversation_id":"c1"}}`,
	}, conv)

	assert.Empty(t, got.deltas)
	assert.Equal(t, "c0", conv.ConversationID)
	assert.Equal(t, "p0", conv.MessageID, "only assistant messages move the parent pointer")
}

func TestParseLine_RecipientGate(t *testing.T) {
	conv := ai.NewConversation("", "")
	got := parseAll([]string{
		`data: {"v":{"message":{"recipient":"browser","author":{"role":"assistant"},"id":"tool"}}}`,
		`data: {"v":"hidden"}`,
		`data: {"v":[{"p":"/message/content/parts/0","v":"hidden too"}]}`,
		`data: {"v":{"message":{"recipient":"all","author":{"role":"assistant"},"id":"m2"}}}`,
		`data: {"v":"shown"}`,
	}, conv)

	assert.Equal(t, []string{"shown"}, texts(got.deltas))
	assert.Equal(t, "m2", conv.MessageID)
}

func TestParseLine_Ignored(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{name: "no data prefix", line: `event: delta`},
		{name: "empty line", line: ``},
		{name: "malformed json", line: `data: {"v":"unterminated`},
		{name: "not an object", line: `data: ["v"]`},
		{name: "other content part", line: `data: {"p":"/message/content/parts/1","v":"other"}`},
		{name: "numeric value", line: `data: {"v":42}`},
		{name: "empty error field", line: `data: {"error":null}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := ai.NewConversation("", "p0")
			before := *conv
			got := parseAll([]string{tt.line}, conv)
			assert.Empty(t, got.deltas)
			assert.Empty(t, got.errs)
			assert.Equal(t, before, *conv)
		})
	}
}

func TestParseLine_ErrorField(t *testing.T) {
	conv := ai.NewConversation("", "")
	got := parseAll([]string{`data: {"error":"Something went wrong"}`}, conv)

	require.Len(t, got.errs, 1)
	assert.ErrorIs(t, got.errs[0], ai.ErrStreamProtocol)
	assert.Contains(t, got.errs[0].Error(), "Something went wrong")
}

func TestParseLine_NoTextAfterFinish(t *testing.T) {
	conv := ai.NewConversation("", "")
	got := parseAll([]string{
		`data: {"v":[{"p":"/message/content/parts/0","v":"a"},{"p":"/message/metadata","v":{"finish_details":{"type":"max_tokens"}}},{"p":"/message/content/parts/0","v":"skipped in batch"}]}`,
		`data: {"v":"late"}`,
		`data: {"v":[{"p":"/message/content/parts/0","v":"late too"},{"p":"/message/metadata","v":{"finish_details":{"type":"stop"}}}]}`,
	}, conv)

	assert.Equal(t, []string{"a"}, texts(got.deltas))
	assert.Equal(t, ai.FinishMaxTokens, conv.FinishReason, "the first finish reason wins")
}

func TestParseLine_ImagePointers(t *testing.T) {
	conv := ai.NewConversation("", "")
	line := `data: {"v":{"message":{"id":"m1","recipient":"all","author":{"role":"assistant"},"content":{"content_type":"multimodal_text","parts":[` +
		`{"content_type":"image_asset_pointer","asset_pointer":"file-service://file-a","metadata":{"dalle":{"prompt":"a red fox"}}},` +
		`{"content_type":"image_asset_pointer","asset_pointer":"file-service://upload","metadata":null},` +
		`{"content_type":"image_asset_pointer","asset_pointer":"sediment://bad","metadata":{"dalle":{"prompt":"x"}}},` +
		`"caption"]}}}}`

	got := parseAll([]string{line}, conv)

	assert.Equal(t, []Delta{{Kind: DeltaImage, Image: &ImageAsset{FileID: "file-a", Prompt: "a red fox"}}}, got.deltas)
	require.Len(t, got.errs, 1)
	assert.ErrorIs(t, got.errs[0], ai.ErrImageResolution)
	assert.Equal(t, "m1", conv.MessageID)
}

func TestParseLine_NoImagesAfterFinish(t *testing.T) {
	conv := ai.NewConversation("", "")
	got := parseAll([]string{
		`data: {"v":[{"p":"/message/content/parts/0","v":"done"},{"p":"/message/metadata","v":{"finish_details":{"type":"stop"}}}]}`,
		`data: {"v":{"message":{"id":"m2","recipient":"all","author":{"role":"assistant"},"content":{"content_type":"multimodal_text","parts":[` +
			`{"content_type":"image_asset_pointer","asset_pointer":"file-service://file-late","metadata":{"dalle":{"prompt":"late"}}},` +
			`{"content_type":"image_asset_pointer","asset_pointer":"sediment://bad","metadata":{"dalle":{"prompt":"x"}}}]}}}}`,
	}, conv)

	assert.Equal(t, []string{"done"}, texts(got.deltas))
	for _, delta := range got.deltas {
		assert.NotEqual(t, DeltaImage, delta.Kind, "no image deltas after the finish signal")
	}
	assert.Empty(t, got.errs)
	assert.Equal(t, "m2", conv.MessageID, "the parent pointer still follows the latest assistant message")
}

func TestParseLine_Deterministic(t *testing.T) {
	lines := []string{
		`data: {"v":{"message":{"id":"m1","author":{"role":"assistant"},"recipient":"all"},"conversation_id":"c1"}}`,
		`data: {"p":"/message/content/parts/0","o":"append","v":"one"}`,
		`garbage`,
		`data: {"v":" two"}`,
		`data: {"v":[{"p":"/message/content/parts/0","v":" three"},{"p":"/message/metadata","v":{"finish_details":{"type":"stop"}}}]}`,
		`data: {"v":" four"}`,
		`data: [DONE]`,
	}

	first := ai.NewConversation("", "p0")
	second := ai.NewConversation("", "p0")
	a := parseAll(lines, first)
	b := parseAll(lines, second)

	assert.Equal(t, a, b)
	assert.Equal(t, *first, *second)
	assert.Equal(t, []string{"one", " two", " three"}, texts(a.deltas))
}

func TestParseLine_StopsWhenConsumerStops(t *testing.T) {
	conv := ai.NewConversation("", "")
	line := []byte(`data: {"v":[{"p":"/message/content/parts/0","v":"a"},{"p":"/message/content/parts/0","v":"b"}]}`)

	var got []string
	for delta, err := range ParseLine(line, conv) {
		require.NoError(t, err)
		got = append(got, delta.Text)
		break
	}
	assert.Equal(t, []string{"a"}, got)
}

func TestTruthy(t *testing.T) {
	for _, raw := range []string{`"x"`, `1`, `true`, `{"a":1}`, `[1]`} {
		assert.True(t, truthy(gjson.Parse(raw)), raw)
	}
	for _, raw := range []string{`""`, `0`, `false`, `null`, `{}`, `[]`} {
		assert.False(t, truthy(gjson.Parse(raw)), raw)
	}
}
