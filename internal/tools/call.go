// Package tools holds the fixed set of tools the model may call: their
// definitions, the per-request enablement filter, and the executor that
// runs decoded calls against the clock and the chat store.
package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/HexSleeves/buzz/internal/errors"
)

// Name identifies a tool.
type Name string

const (
	CurrentTime   Name = "get_current_time"
	Calculate     Name = "calculate"
	ListChats     Name = "list_user_chats"
	SearchHistory Name = "search_chat_history"
)

const (
	defaultTimezone    = "UTC"
	defaultListLimit   = 10
	defaultSearchLimit = 5
)

// Call is a decoded tool invocation. The implementations below are the only
// ones; Executor.run switches over them.
type Call interface {
	Tool() Name
	isCall()
}

type CurrentTimeCall struct {
	// Timezone is echoed back as a label and never used to convert.
	Timezone string
}

type CalculateCall struct {
	Expression string
}

type ListChatsCall struct {
	Limit int
}

type SearchHistoryCall struct {
	Query string
	Limit int
}

func (CurrentTimeCall) Tool() Name   { return CurrentTime }
func (CalculateCall) Tool() Name     { return Calculate }
func (ListChatsCall) Tool() Name     { return ListChats }
func (SearchHistoryCall) Tool() Name { return SearchHistory }

func (CurrentTimeCall) isCall()   {}
func (CalculateCall) isCall()     {}
func (ListChatsCall) isCall()     {}
func (SearchHistoryCall) isCall() {}

// Wire shapes. Limits are declared as "number" in the schemas, so models
// sometimes send 5.0; they are decoded as floats and truncated.
type timeInput struct {
	Timezone *string `json:"timezone"`
}

type calcInput struct {
	Expression *string `json:"expression"`
}

type listInput struct {
	Limit *float64 `json:"limit"`
}

type searchInput struct {
	Query *string  `json:"query"`
	Limit *float64 `json:"limit"`
}

// Decode validates raw JSON input for the named tool and returns the typed
// call. Failures are *errors.Error with KindUnknownTool or KindInvalidInput.
func Decode(name string, input json.RawMessage) (Call, error) {
	switch Name(name) {
	case CurrentTime:
		var in timeInput
		if err := unmarshalInput(input, &in); err != nil {
			return nil, err
		}
		tz := defaultTimezone
		if in.Timezone != nil && *in.Timezone != "" {
			tz = *in.Timezone
		}
		return CurrentTimeCall{Timezone: tz}, nil

	case Calculate:
		var in calcInput
		if err := unmarshalInput(input, &in); err != nil {
			return nil, err
		}
		if in.Expression == nil {
			return nil, errors.New(errors.KindInvalidInput, "expression is required")
		}
		return CalculateCall{Expression: *in.Expression}, nil

	case ListChats:
		var in listInput
		if err := unmarshalInput(input, &in); err != nil {
			return nil, err
		}
		return ListChatsCall{Limit: limitOr(in.Limit, defaultListLimit)}, nil

	case SearchHistory:
		var in searchInput
		if err := unmarshalInput(input, &in); err != nil {
			return nil, err
		}
		if in.Query == nil || *in.Query == "" {
			return nil, errors.New(errors.KindInvalidInput, "query is required")
		}
		return SearchHistoryCall{Query: *in.Query, Limit: limitOr(in.Limit, defaultSearchLimit)}, nil
	}
	return nil, errors.New(errors.KindUnknownTool, name)
}

func unmarshalInput(input json.RawMessage, v interface{}) error {
	input = bytes.TrimSpace(input)
	if len(input) == 0 || bytes.Equal(input, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(input, v); err != nil {
		return errors.New(errors.KindInvalidInput, fmt.Sprintf("invalid input: %v", err))
	}
	return nil
}

func limitOr(v *float64, def int) int {
	if v == nil || *v < 1 {
		return def
	}
	return int(*v)
}
