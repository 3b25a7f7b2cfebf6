package compose

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Capability is a named role that work can be delegated to.
type Capability string

// CapabilityRequestComposer drafts deletion requests.
const CapabilityRequestComposer Capability = "Privacy Rights Request Composer"

var capabilities = []Capability{CapabilityRequestComposer}

// ParseCapability accepts only known capability names.
func ParseCapability(name string) (Capability, error) {
	for _, c := range capabilities {
		if string(c) == strings.TrimSpace(name) {
			return c, nil
		}
	}
	valid := make([]string, len(capabilities))
	for i, c := range capabilities {
		valid[i] = string(c)
	}
	return "", fmt.Errorf("invalid coworker %q: valid options are %s", name, strings.Join(valid, ", "))
}

// Delegation hands a task and its context to a capability.
type Delegation struct {
	Task     string     `json:"task"`
	Context  string     `json:"context"`
	Coworker Capability `json:"coworker"`
}

// DecodeDelegation parses a delegation payload. Task and context may each be
// a plain string, an object with a "description" field, or a string holding
// such an object.
func DecodeDelegation(raw []byte) (Delegation, error) {
	var in struct {
		Task     json.RawMessage `json:"task"`
		Context  json.RawMessage `json:"context"`
		Coworker string          `json:"coworker"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return Delegation{}, fmt.Errorf("decode delegation: %w", err)
	}
	coworker, err := ParseCapability(in.Coworker)
	if err != nil {
		return Delegation{}, err
	}
	d := Delegation{
		Task:     describe(in.Task),
		Context:  describe(in.Context),
		Coworker: coworker,
	}
	if d.Task == "" {
		return Delegation{}, errors.New("delegation task is required")
	}
	return d, nil
}

// describe flattens a string-or-object field to text.
func describe(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		trimmed := strings.TrimSpace(s)
		if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
			return describe(json.RawMessage(trimmed))
		}
		return s
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		if d, ok := obj["description"].(string); ok {
			return d
		}
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return string(raw)
	}
	return compact.String()
}

// SendInput is the typed form of a send request.
type SendInput struct {
	To          []string `json:"to"`
	Subject     string   `json:"subject"`
	Body        string   `json:"body"`
	HTMLContent string   `json:"html_content,omitempty"`
}

// DecodeSendInput parses a send payload. "to" may be an address, a
// comma-separated list, an array, or a JSON string carrying the whole
// payload; fields found in that nested payload override the outer ones.
func DecodeSendInput(raw []byte) (SendInput, error) {
	out, err := decodeSend(raw)
	if err != nil {
		return SendInput{}, err
	}
	return out, validateSend(out)
}

func decodeSend(raw []byte) (SendInput, error) {
	var in struct {
		To          json.RawMessage `json:"to"`
		Subject     string          `json:"subject"`
		Body        string          `json:"body"`
		HTMLContent string          `json:"html_content"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return SendInput{}, fmt.Errorf("decode send input: %w", err)
	}
	out := SendInput{Subject: in.Subject, Body: in.Body, HTMLContent: in.HTMLContent}

	var single string
	var list []string
	switch {
	case json.Unmarshal(in.To, &single) == nil:
		trimmed := strings.TrimSpace(single)
		if strings.HasPrefix(trimmed, "{") {
			nested, err := decodeSend([]byte(trimmed))
			if err != nil {
				return SendInput{}, fmt.Errorf("nested payload: %w", err)
			}
			return merge(out, nested), nil
		}
		out.To = splitAddresses(single)
	case json.Unmarshal(in.To, &list) == nil:
		for _, item := range list {
			out.To = append(out.To, splitAddresses(item)...)
		}
	}
	return out, nil
}

func merge(outer, nested SendInput) SendInput {
	if len(nested.To) > 0 {
		outer.To = nested.To
	}
	if nested.Subject != "" {
		outer.Subject = nested.Subject
	}
	if nested.Body != "" {
		outer.Body = nested.Body
	}
	if nested.HTMLContent != "" {
		outer.HTMLContent = nested.HTMLContent
	}
	return outer
}

func splitAddresses(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validateSend(in SendInput) error {
	if len(in.To) == 0 {
		return errors.New("send input: recipient is required")
	}
	if strings.TrimSpace(in.Subject) == "" {
		return errors.New("send input: subject is required")
	}
	if strings.TrimSpace(in.Body) == "" && strings.TrimSpace(in.HTMLContent) == "" {
		return errors.New("send input: body is required")
	}
	return nil
}
