// Package codec maps message intents to the JSON envelope carried inside
// encrypted messages, and back.
//
// The envelope shapes are:
//
//	Text       {"message":{"content":"gm","type":"Text"}}
//	Reaction   {"message":{"content":"👍","reference":"m1"},"messageType":"Reaction"}
//	Reply      {"message":{"content":{"content":"hi","type":"Text"},"reference":"m1","type":"Reply"}}
//	Attachment {"message":{"content":{"url":"...","name":"..."},"type":"Attachment"}}
//
// Decode is the left inverse of Encode for every valid intent.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
)

type MessageType string

const (
	TypeText       MessageType = "Text"
	TypeReaction   MessageType = "Reaction"
	TypeReply      MessageType = "Reply"
	TypeAttachment MessageType = "Attachment"
)

var (
	// ErrMissingReference is returned by Encode for a Reaction or Reply
	// without a reference id. It is a caller bug, detected before any I/O.
	ErrMissingReference = errors.New("codec: reaction and reply require a reference")

	ErrMalformedEnvelope = errors.New("codec: malformed envelope")
	ErrInvalidIntent     = errors.New("codec: invalid intent")
)

// Intent is what the user wants to send. Exactly one of Text, Reaction, Reply
// or Attachment.
type Intent interface {
	Type() MessageType
	isIntent()
}

type Text struct {
	Content string
}

type Reaction struct {
	Content   string
	Reference string
}

// Reply quotes the message with id Reference. Body is a Text or an
// Attachment.
type Reply struct {
	Reference string
	Body      Intent
}

type Attachment struct {
	File File
}

// File describes an uploaded blob.
type File struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
	SHA256   string `json:"sha256,omitempty"`
}

func (Text) Type() MessageType       { return TypeText }
func (Reaction) Type() MessageType   { return TypeReaction }
func (Reply) Type() MessageType      { return TypeReply }
func (Attachment) Type() MessageType { return TypeAttachment }

func (Text) isIntent()       {}
func (Reaction) isIntent()   {}
func (Reply) isIntent()      {}
func (Attachment) isIntent() {}

// Envelope is the wire form of a message.
type Envelope struct {
	Message     Payload     `json:"message"`
	MessageType MessageType `json:"messageType,omitempty"`
}

type Payload struct {
	Content   json.RawMessage `json:"content"`
	Type      MessageType     `json:"type,omitempty"`
	Reference string          `json:"reference,omitempty"`
}

// replyBody is the nested content of a Reply.
type replyBody struct {
	Content json.RawMessage `json:"content"`
	Type    MessageType     `json:"type"`
}

// Encode builds the envelope for intent.
func Encode(intent Intent) (Envelope, error) {
	switch in := intent.(type) {
	case Text:
		return Envelope{Message: Payload{Content: quote(in.Content), Type: TypeText}}, nil
	case Reaction:
		if in.Reference == "" {
			return Envelope{}, ErrMissingReference
		}
		return Envelope{
			Message:     Payload{Content: quote(in.Content), Reference: in.Reference},
			MessageType: TypeReaction,
		}, nil
	case Reply:
		if in.Reference == "" {
			return Envelope{}, ErrMissingReference
		}
		inner, err := encodeBody(in.Body)
		if err != nil {
			return Envelope{}, err
		}
		raw, err := json.Marshal(inner)
		if err != nil {
			return Envelope{}, err
		}
		return Envelope{Message: Payload{Content: raw, Reference: in.Reference, Type: TypeReply}}, nil
	case Attachment:
		if in.File.URL == "" {
			return Envelope{}, fmt.Errorf("%w: attachment without url", ErrInvalidIntent)
		}
		raw, err := json.Marshal(in.File)
		if err != nil {
			return Envelope{}, err
		}
		return Envelope{Message: Payload{Content: raw, Type: TypeAttachment}}, nil
	}
	return Envelope{}, fmt.Errorf("%w: %T", ErrInvalidIntent, intent)
}

func encodeBody(body Intent) (replyBody, error) {
	switch b := body.(type) {
	case Text:
		return replyBody{Content: quote(b.Content), Type: TypeText}, nil
	case Attachment:
		if b.File.URL == "" {
			return replyBody{}, fmt.Errorf("%w: attachment without url", ErrInvalidIntent)
		}
		raw, err := json.Marshal(b.File)
		if err != nil {
			return replyBody{}, err
		}
		return replyBody{Content: raw, Type: TypeAttachment}, nil
	}
	return replyBody{}, fmt.Errorf("%w: reply body %T", ErrInvalidIntent, body)
}

// Decode recovers the intent from an envelope.
func Decode(env Envelope) (Intent, error) {
	if env.MessageType == TypeReaction {
		var content string
		if err := json.Unmarshal(env.Message.Content, &content); err != nil {
			return nil, fmt.Errorf("%w: reaction content: %v", ErrMalformedEnvelope, err)
		}
		if env.Message.Reference == "" {
			return nil, fmt.Errorf("%w: reaction without reference", ErrMalformedEnvelope)
		}
		return Reaction{Content: content, Reference: env.Message.Reference}, nil
	}

	switch env.Message.Type {
	case TypeText, TypeAttachment:
		return decodeBody(env.Message.Type, env.Message.Content)
	case TypeReply:
		if env.Message.Reference == "" {
			return nil, fmt.Errorf("%w: reply without reference", ErrMalformedEnvelope)
		}
		var inner replyBody
		if err := json.Unmarshal(env.Message.Content, &inner); err != nil {
			return nil, fmt.Errorf("%w: reply content: %v", ErrMalformedEnvelope, err)
		}
		if inner.Type != TypeText && inner.Type != TypeAttachment {
			return nil, fmt.Errorf("%w: reply body type %q", ErrMalformedEnvelope, inner.Type)
		}
		body, err := decodeBody(inner.Type, inner.Content)
		if err != nil {
			return nil, err
		}
		return Reply{Reference: env.Message.Reference, Body: body}, nil
	}
	return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedEnvelope, env.Message.Type)
}

func decodeBody(t MessageType, content json.RawMessage) (Intent, error) {
	switch t {
	case TypeText:
		var s string
		if err := json.Unmarshal(content, &s); err != nil {
			return nil, fmt.Errorf("%w: text content: %v", ErrMalformedEnvelope, err)
		}
		return Text{Content: s}, nil
	case TypeAttachment:
		var f File
		if err := json.Unmarshal(content, &f); err != nil {
			return nil, fmt.Errorf("%w: attachment content: %v", ErrMalformedEnvelope, err)
		}
		if f.URL == "" {
			return nil, fmt.Errorf("%w: attachment without url", ErrMalformedEnvelope)
		}
		return Attachment{File: f}, nil
	}
	return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedEnvelope, t)
}

// Marshal encodes intent straight to JSON.
func Marshal(intent Intent) ([]byte, error) {
	env, err := Encode(intent)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Unmarshal parses JSON and decodes the envelope.
func Unmarshal(data []byte) (Intent, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return Decode(env)
}

// Summary renders intent as a single line of plaintext.
func Summary(intent Intent) string {
	switch in := intent.(type) {
	case Text:
		return in.Content
	case Reaction:
		return in.Content
	case Reply:
		return Summary(in.Body)
	case Attachment:
		if in.File.Name != "" {
			return "[file] " + in.File.Name + " " + in.File.URL
		}
		return "[file] " + in.File.URL
	}
	return ""
}

func quote(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
