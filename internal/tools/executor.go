package tools

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/HexSleeves/buzz/internal/errors"
	"github.com/HexSleeves/buzz/internal/llm"
	"github.com/HexSleeves/buzz/internal/state"
	"golang.org/x/sync/errgroup"
)

const (
	searchChatScan   = 50
	searchContentLen = 200
	maxParallelTools = 4
)

// ChatStore is the read side of the chat store the history tools need.
type ChatStore interface {
	ListChats(ctx context.Context, userID string, limit int) ([]state.Chat, error)
	ListMessages(ctx context.Context, chatID int64) ([]state.Message, error)
}

// Executor runs tool calls on behalf of one user. A nil store disables the
// history tools; they fail with "Database not available".
type Executor struct {
	store  ChatStore
	userID string
	now    func() time.Time
	logger *log.Logger
}

func NewExecutor(store ChatStore, userID string) *Executor {
	return &Executor{
		store:  store,
		userID: userID,
		now:    time.Now,
		logger: log.New(os.Stderr, "", log.LstdFlags),
	}
}

// SetLogger replaces the default stderr logger.
func (e *Executor) SetLogger(l *log.Logger) {
	e.logger = l
}

// SetClock overrides the time source used by get_current_time.
func (e *Executor) SetClock(now func() time.Time) {
	e.now = now
}

// Result is the outcome of one tool call. Exactly one of Payload and Err is
// set.
type Result struct {
	Name    Name
	Payload interface{}
	Err     *errors.Error
}

func (r Result) Success() bool {
	return r.Err == nil
}

// Content renders the result as the JSON string handed back to the model:
// {"success":true,"result":...} or {"success":false,"error":"..."}.
func (r Result) Content() string {
	var body map[string]interface{}
	if r.Err != nil {
		body = map[string]interface{}{"success": false, "error": r.Err.Message()}
	} else {
		body = map[string]interface{}{"success": true, "result": r.Payload}
	}
	data, err := json.Marshal(body)
	if err != nil {
		data, _ = json.Marshal(map[string]interface{}{
			"success": false,
			"error":   errors.New(errors.KindToolFailed, err.Error()).Message(),
		})
	}
	return string(data)
}

// ToolResult pairs the rendered result with the call it answers.
func (r Result) ToolResult(callID string) llm.ToolResult {
	return llm.ToolResult{ToolCallID: callID, Content: r.Content(), IsError: r.Err != nil}
}

func failure(name Name, err error) Result {
	var te *errors.Error
	if !stderrors.As(err, &te) {
		te = errors.Wrap(errors.KindToolFailed, err)
	}
	return Result{Name: name, Err: te}
}

// Execute decodes and runs one call. It never panics and never returns a Go
// error: every failure is carried in the Result.
func (e *Executor) Execute(ctx context.Context, name string, input json.RawMessage) (res Result) {
	defer func() {
		if r := errors.RecoverPanic(recover()); r.Recovered {
			e.logger.Printf("⚠ Tool %s panicked: %s", name, r.ErrorMsg)
			res = failure(Name(name), errors.New(errors.KindToolFailed, r.ErrorMsg))
		}
	}()

	call, err := Decode(name, input)
	if err != nil {
		return failure(Name(name), err)
	}
	return e.Run(ctx, call)
}

// Run executes an already decoded call.
func (e *Executor) Run(ctx context.Context, call Call) Result {
	var (
		payload interface{}
		err     error
	)
	switch c := call.(type) {
	case CurrentTimeCall:
		payload = e.currentTime(c)
	case CalculateCall:
		payload, err = e.calculate(c)
	case ListChatsCall:
		payload, err = e.listChats(ctx, c)
	case SearchHistoryCall:
		payload, err = e.searchHistory(ctx, c)
	default:
		err = errors.New(errors.KindUnknownTool, string(call.Tool()))
	}
	if err != nil {
		return failure(call.Tool(), err)
	}
	return Result{Name: call.Tool(), Payload: payload}
}

// ExecuteBatch runs calls concurrently and returns their results in call
// order. Tool failures are results, so the batch itself never fails.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []llm.ToolCall) []llm.ToolResult {
	results := make([]llm.ToolResult, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelTools)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = e.Execute(gctx, call.Name, call.Input).ToolResult(call.ID)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

type timeResult struct {
	Datetime  string `json:"datetime"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	DayOfWeek string `json:"day_of_week"`
	Timezone  string `json:"timezone"`
	Timestamp int64  `json:"timestamp"`
}

func (e *Executor) currentTime(c CurrentTimeCall) timeResult {
	now := e.now()
	return timeResult{
		Datetime:  now.Format(time.RFC3339),
		Date:      now.Format("2006-01-02"),
		Time:      now.Format("15:04:05"),
		DayOfWeek: now.Weekday().String(),
		Timezone:  c.Timezone,
		Timestamp: now.Unix(),
	}
}

type calcResult struct {
	Expression string      `json:"expression"`
	Answer     interface{} `json:"answer"`
}

func (e *Executor) calculate(c CalculateCall) (calcResult, error) {
	n, err := evaluate(c.Expression)
	if err != nil {
		return calcResult{}, err
	}
	return calcResult{Expression: c.Expression, Answer: n.value()}, nil
}

type chatSummary struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type chatList struct {
	TotalChats int           `json:"total_chats"`
	Chats      []chatSummary `json:"chats"`
}

func (e *Executor) listChats(ctx context.Context, c ListChatsCall) (chatList, error) {
	if e.store == nil {
		return chatList{}, errors.New(errors.KindStorageUnavailable, "")
	}
	chats, err := e.store.ListChats(ctx, e.userID, c.Limit)
	if err != nil {
		return chatList{}, fmt.Errorf("list chats: %w", err)
	}
	out := chatList{TotalChats: len(chats), Chats: make([]chatSummary, 0, len(chats))}
	for _, ch := range chats {
		out.Chats = append(out.Chats, chatSummary{
			ID:        ch.ID,
			Title:     ch.Title,
			CreatedAt: ch.CreatedAt.Format(time.RFC3339),
			UpdatedAt: ch.UpdatedAt.Format(time.RFC3339),
		})
	}
	return out, nil
}

type searchHit struct {
	ChatID    int64  `json:"chat_id"`
	ChatTitle string `json:"chat_title"`
	MessageID int64  `json:"message_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

type searchResult struct {
	Query        string      `json:"query"`
	TotalResults int         `json:"total_results"`
	Results      []searchHit `json:"results"`
}

// searchHistory scans the user's most recent chats for messages containing
// the query, case-insensitively, stopping as soon as the limit is reached.
func (e *Executor) searchHistory(ctx context.Context, c SearchHistoryCall) (searchResult, error) {
	if e.store == nil {
		return searchResult{}, errors.New(errors.KindStorageUnavailable, "")
	}
	chats, err := e.store.ListChats(ctx, e.userID, searchChatScan)
	if err != nil {
		return searchResult{}, fmt.Errorf("list chats: %w", err)
	}

	needle := strings.ToLower(c.Query)
	hits := make([]searchHit, 0, c.Limit)
	for _, ch := range chats {
		if len(hits) >= c.Limit {
			break
		}
		msgs, err := e.store.ListMessages(ctx, ch.ID)
		if err != nil {
			return searchResult{}, fmt.Errorf("list messages: %w", err)
		}
		for _, m := range msgs {
			if !strings.Contains(strings.ToLower(m.Content), needle) {
				continue
			}
			hits = append(hits, searchHit{
				ChatID:    ch.ID,
				ChatTitle: ch.Title,
				MessageID: m.ID,
				Role:      m.Role,
				Content:   truncateRunes(m.Content, searchContentLen),
				CreatedAt: m.CreatedAt.Format(time.RFC3339),
			})
			if len(hits) >= c.Limit {
				break
			}
		}
	}
	return searchResult{Query: c.Query, TotalResults: len(hits), Results: hits}, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
