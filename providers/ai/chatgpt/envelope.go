package chatgpt

import (
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/leofalp/webchat/providers/ai"
)

type requirementsRequest struct {
	P *string `json:"p"`
}

type conversationRequest struct {
	Action                           ai.Action            `json:"action"`
	Messages                         []envelopeMessage    `json:"messages"`
	ConversationID                   string               `json:"conversation_id,omitempty"`
	ParentMessageID                  string               `json:"parent_message_id"`
	Model                            string               `json:"model"`
	TimezoneOffsetMin                int                  `json:"timezone_offset_min"`
	Timezone                         string               `json:"timezone"`
	HistoryAndTrainingDisabled       bool                 `json:"history_and_training_disabled"`
	ConversationMode                 conversationMode     `json:"conversation_mode"`
	ForceParagen                     bool                 `json:"force_paragen"`
	ForceParagenModelSlug            string               `json:"force_paragen_model_slug"`
	ForceRateLimit                   bool                 `json:"force_rate_limit"`
	ResetRateLimits                  bool                 `json:"reset_rate_limits"`
	WebsocketRequestID               string               `json:"websocket_request_id"`
	SystemHints                      []string             `json:"system_hints"`
	SupportedEncodings               []string             `json:"supported_encodings"`
	ConversationOrigin               *string              `json:"conversation_origin"`
	ClientContextualInfo             clientContextualInfo `json:"client_contextual_info"`
	ParagenStreamTypeOverride        *string              `json:"paragen_stream_type_override"`
	ParagenCotSummaryDisplayOverride string               `json:"paragen_cot_summary_display_override"`
	SupportsBuffering                bool                 `json:"supports_buffering"`
}

type conversationMode struct {
	Kind      string   `json:"kind"`
	PluginIDs []string `json:"plugin_ids"`
}

type clientContextualInfo struct {
	IsDarkMode      bool `json:"is_dark_mode"`
	TimeSinceLoaded int  `json:"time_since_loaded"`
	PageHeight      int  `json:"page_height"`
	PageWidth       int  `json:"page_width"`
	PixelRatio      int  `json:"pixel_ratio"`
	ScreenHeight    int  `json:"screen_height"`
	ScreenWidth     int  `json:"screen_width"`
}

type envelopeMessage struct {
	ID         string          `json:"id"`
	Author     author          `json:"author"`
	Content    messageContent  `json:"content"`
	CreateTime int64           `json:"create_time"`
	Metadata   messageMetadata `json:"metadata"`
}

type author struct {
	Role ai.MessageRole `json:"role"`
}

type messageContent struct {
	ContentType string `json:"content_type"`
	Parts       []any  `json:"parts"`
}

type messageMetadata struct {
	SerializationMetadata *serializationMetadata `json:"serialization_metadata,omitempty"`
	SystemHints           []string               `json:"system_hints,omitempty"`
	Attachments           []attachment           `json:"attachments,omitempty"`
}

type serializationMetadata struct {
	CustomSymbolOffsets []int `json:"custom_symbol_offsets"`
}

type assetPointer struct {
	AssetPointer string `json:"asset_pointer"`
	Height       int    `json:"height"`
	SizeBytes    int    `json:"size_bytes"`
	Width        int    `json:"width"`
}

type attachment struct {
	Height   int    `json:"height"`
	ID       string `json:"id"`
	MimeType string `json:"mimeType"`
	Name     string `json:"name"`
	Size     int    `json:"size"`
	Width    int    `json:"width"`
}

// envelope builds the conversation request for the current sub-request.
func (t *turn) envelope() conversationRequest {
	now := t.p.clock.Now()
	var hints []string
	if t.p.cfg.WebSearch {
		hints = []string{"search"}
	}

	body := conversationRequest{
		Action:                           t.action,
		ConversationID:                   t.conv.ConversationID,
		ParentMessageID:                  t.conv.MessageID,
		Model:                            t.model,
		TimezoneOffsetMin:                timezoneOffset(t.p.cfg.Timezone, now),
		Timezone:                         t.p.cfg.Timezone,
		HistoryAndTrainingDisabled:       t.historyDisabled(),
		ConversationMode:                 conversationMode{Kind: "primary_assistant"},
		WebsocketRequestID:               uuid.NewString(),
		SystemHints:                      hints,
		SupportedEncodings:               []string{"v1"},
		ParagenCotSummaryDisplayOverride: "allow",
		SupportsBuffering:                true,
		ClientContextualInfo: clientContextualInfo{
			TimeSinceLoaded: 20 + rand.IntN(481),
			PageHeight:      578,
			PageWidth:       1850,
			PixelRatio:      1,
			ScreenHeight:    1080,
			ScreenWidth:     1920,
		},
	}

	if t.action != ai.ActionContinue {
		messages := t.req.Messages
		if t.existingConversation && len(messages) > 0 {
			messages = messages[len(messages)-1:]
		}
		body.Messages = buildMessages(messages, t.uploads, hints, now)
	}
	return body
}

// historyDisabled reports the history_and_training_disabled flag. Anonymous
// sessions never keep history.
func (t *turn) historyDisabled() bool {
	cfg := t.p.cfg
	return cfg.HistoryDisabled && !t.autoContinue && !cfg.ReturnConversation || !cfg.NeedsAuth
}

// buildMessages converts the chat history. Uploaded images are attached to
// the last message.
func buildMessages(messages []ai.Message, uploads []uploadedImage, hints []string, now time.Time) []envelopeMessage {
	out := make([]envelopeMessage, 0, len(messages))
	for _, message := range messages {
		out = append(out, envelopeMessage{
			ID:         uuid.NewString(),
			Author:     author{Role: message.Role},
			Content:    messageContent{ContentType: "text", Parts: []any{message.Content}},
			CreateTime: now.Unix(),
			Metadata: messageMetadata{
				SerializationMetadata: &serializationMetadata{CustomSymbolOffsets: []int{}},
				SystemHints:           hints,
			},
		})
	}
	if len(uploads) == 0 || len(out) == 0 {
		return out
	}

	last := &out[len(out)-1]
	parts := make([]any, 0, len(uploads)+1)
	attachments := make([]attachment, 0, len(uploads))
	for _, upload := range uploads {
		parts = append(parts, assetPointer{
			AssetPointer: assetScheme + upload.FileID,
			Height:       upload.Height,
			SizeBytes:    upload.FileSize,
			Width:        upload.Width,
		})
		attachments = append(attachments, attachment{
			Height:   upload.Height,
			ID:       upload.FileID,
			MimeType: upload.MimeType,
			Name:     upload.FileName,
			Size:     upload.FileSize,
			Width:    upload.Width,
		})
	}
	last.Content = messageContent{ContentType: "multimodal_text", Parts: append(parts, last.Content.Parts...)}
	last.Metadata = messageMetadata{Attachments: attachments}
	return out
}

func timezoneOffset(name string, now time.Time) int {
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = time.UTC
	}
	_, offset := now.In(loc).Zone()
	return -offset / 60
}
