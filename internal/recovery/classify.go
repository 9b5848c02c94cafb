package recovery

import (
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
)

// ChatType classifies a chat JID by its server suffix.
type ChatType string

const (
	ChatGroup     ChatType = "group"
	ChatPrivate   ChatType = "private"
	ChatBroadcast ChatType = "broadcast"
	ChatUnknown   ChatType = "unknown"
)

// ClassifyChat determines the chat type from the JID server suffix.
func ClassifyChat(jid types.JID) ChatType {
	switch jid.Server {
	case types.GroupServer:
		return ChatGroup
	case types.DefaultUserServer, types.HiddenUserServer:
		return ChatPrivate
	case types.BroadcastServer:
		return ChatBroadcast
	default:
		return ChatUnknown
	}
}

// Kind classifies message payload content by which variant is populated.
type Kind string

const (
	KindText         Kind = "text"
	KindExtendedText Kind = "extended-text"
	KindImage        Kind = "image"
	KindVideo        Kind = "video"
	KindAudio        Kind = "audio"
	KindDocument     Kind = "document"
	KindSticker      Kind = "sticker"
	KindUnknown      Kind = "unknown"
)

// DetectKind inspects which payload variant of the message is populated.
func DetectKind(msg *waE2E.Message) Kind {
	switch {
	case msg == nil:
		return KindUnknown
	case msg.GetConversation() != "":
		return KindText
	case msg.GetExtendedTextMessage() != nil:
		return KindExtendedText
	case msg.GetImageMessage() != nil:
		return KindImage
	case msg.GetVideoMessage() != nil:
		return KindVideo
	case msg.GetAudioMessage() != nil:
		return KindAudio
	case msg.GetDocumentMessage() != nil:
		return KindDocument
	case msg.GetStickerMessage() != nil:
		return KindSticker
	default:
		return KindUnknown
	}
}

// ExtractContent returns a human-readable rendering of the payload:
// the text for text kinds, captions for captioned media, the filename
// for documents, and fixed placeholders for audio and stickers.
func ExtractContent(msg *waE2E.Message) string {
	switch DetectKind(msg) {
	case KindText:
		return msg.GetConversation()
	case KindExtendedText:
		return msg.GetExtendedTextMessage().GetText()
	case KindImage:
		if c := msg.GetImageMessage().GetCaption(); c != "" {
			return c
		}
		return "[image]"
	case KindVideo:
		if c := msg.GetVideoMessage().GetCaption(); c != "" {
			return c
		}
		return "[video]"
	case KindAudio:
		return "[voice message]"
	case KindDocument:
		doc := msg.GetDocumentMessage()
		if c := doc.GetCaption(); c != "" {
			return c
		}
		if n := doc.GetFileName(); n != "" {
			return n
		}
		return "[document]"
	case KindSticker:
		return "[sticker]"
	default:
		return "[unsupported]"
	}
}
