package chatgpt

import (
	"bytes"
	"fmt"
	"iter"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/leofalp/webchat/providers/ai"
)

// DeltaKind identifies what a Delta carries.
type DeltaKind int

const (
	// DeltaText is a fragment of the assistant's reply.
	DeltaText DeltaKind = iota + 1
	// DeltaImage is a generated image that still has to be resolved.
	DeltaImage
	// DeltaConversation reports the backend conversation id the first time it is seen.
	DeltaConversation
)

// ImageAsset points at a generated image stored by the backend.
type ImageAsset struct {
	FileID string
	Prompt string
}

// Delta is one item produced by ParseLine.
type Delta struct {
	Kind           DeltaKind
	Text           string
	Image          *ImageAsset
	ConversationID string
}

const (
	contentPath  = "/message/content/parts/0"
	metadataPath = "/message/metadata"
	assetScheme  = "file-service://"
)

var (
	dataPrefix = []byte("data: ")
	doneMarker = []byte("[DONE]")
)

// ParseLine decodes one line of a conversation stream. State that spans
// lines (conversation id, recipient gate, parent message id, finish reason)
// is read from and written to conv, which must not be nil.
//
// Lines without the "data: " prefix and malformed JSON yield nothing. The
// terminator yields ai.ErrAmbiguousTermination when no finish reason was
// recorded. A payload with an error field yields an ai.ErrStreamProtocol
// error. A malformed image pointer yields an ai.ErrImageResolution error,
// which does not end the stream.
func ParseLine(line []byte, conv *ai.Conversation) iter.Seq2[Delta, error] {
	return func(yield func(Delta, error) bool) {
		payload, ok := bytes.CutPrefix(line, dataPrefix)
		if !ok {
			return
		}
		if bytes.HasPrefix(payload, doneMarker) {
			if conv.Finish(ai.FinishError) {
				yield(Delta{}, ai.ErrAmbiguousTermination)
			}
			return
		}
		if !gjson.ValidBytes(payload) {
			return
		}
		root := gjson.ParseBytes(payload)
		if !root.IsObject() {
			return
		}
		if errField := root.Get("error"); truthy(errField) {
			yield(Delta{}, fmt.Errorf("%w: %s", ai.ErrStreamProtocol, errField.String()))
			return
		}

		v := root.Get("v")
		switch {
		case v.Type == gjson.String:
			parseText(root, v, conv, yield)
		case v.IsArray():
			parsePatches(v, conv, yield)
		case v.IsObject():
			parseMessage(v, conv, yield)
		}
	}
}

// parseText handles {"v": "..."} with an optional "p" naming the target part.
func parseText(root, v gjson.Result, conv *ai.Conversation, yield func(Delta, error) bool) {
	if !conv.IsRecipient || conv.Finished() || v.Str == "" {
		return
	}
	if p := root.Get("p"); p.Exists() && p.String() != contentPath {
		return
	}
	yield(Delta{Kind: DeltaText, Text: v.Str}, nil)
}

// parsePatches handles a batch of path operations. The metadata patch
// carries the finish reason and ends the batch.
func parsePatches(v gjson.Result, conv *ai.Conversation, yield func(Delta, error) bool) {
	if !conv.IsRecipient {
		return
	}
	for _, patch := range v.Array() {
		switch patch.Get("p").String() {
		case contentPath:
			text := patch.Get("v").String()
			if conv.Finished() || text == "" {
				continue
			}
			if !yield(Delta{Kind: DeltaText, Text: text}, nil) {
				return
			}
		case metadataPath:
			conv.Finish(patch.Get("v.finish_details.type").String())
			return
		}
	}
}

// parseMessage handles a full message snapshot.
func parseMessage(v gjson.Result, conv *ai.Conversation, yield func(Delta, error) bool) {
	if conv.ConversationID == "" {
		if id := v.Get("conversation_id").String(); id != "" {
			conv.ConversationID = id
			if !yield(Delta{Kind: DeltaConversation, ConversationID: id}, nil) {
				return
			}
		}
	}

	message := v.Get("message")
	recipient := message.Get("recipient")
	conv.IsRecipient = !recipient.Exists() || recipient.String() == "all"
	if !conv.IsRecipient {
		return
	}

	content := message.Get("content")
	if !conv.Finished() && content.Get("content_type").String() == "multimodal_text" {
		for _, part := range content.Get("parts").Array() {
			if !part.IsObject() || part.Get("content_type").String() != "image_asset_pointer" {
				continue
			}
			asset, err := imageAsset(part)
			if err != nil {
				if !yield(Delta{}, err) {
					return
				}
				continue
			}
			if asset == nil {
				continue
			}
			if !yield(Delta{Kind: DeltaImage, Image: asset}, nil) {
				return
			}
		}
	}

	if message.Get("author.role").String() == string(ai.RoleAssistant) {
		if id := message.Get("id").String(); id != "" {
			conv.MessageID = id
		}
	}
}

// imageAsset extracts a generated image. Parts without generation metadata
// are user uploads echoed back and are skipped.
func imageAsset(part gjson.Result) (*ImageAsset, error) {
	dalle := part.Get("metadata.dalle")
	if !dalle.IsObject() {
		return nil, nil
	}
	pointer := part.Get("asset_pointer").String()
	fileID, ok := strings.CutPrefix(pointer, assetScheme)
	if !ok || fileID == "" {
		return nil, fmt.Errorf("%w: malformed asset pointer %q", ai.ErrImageResolution, pointer)
	}
	return &ImageAsset{FileID: fileID, Prompt: dalle.Get("prompt").String()}, nil
}

// truthy mirrors the backend's loose notion of a set field.
func truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.String:
		return r.Str != ""
	case gjson.Number:
		return r.Num != 0
	case gjson.JSON:
		if r.IsArray() {
			return len(r.Array()) > 0
		}
		return len(r.Map()) > 0
	default:
		return true
	}
}
