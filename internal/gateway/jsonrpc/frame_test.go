package jsonrpc_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/jsonrpc"
)

func TestFramer_BannerNoiseAndConcatenatedFrames(t *testing.T) {
	f := jsonrpc.New(jsonrpc.Config{})

	input := "starting...\n" +
		`{"jsonrpc":"2.0","id":"a","result":{"ok":true}}` +
		`{"jsonrpc":"2.0","id":"b","result":{"ok":false}}`

	msgs, err := f.Feed([]byte(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].ID != "a" || msgs[1].ID != "b" {
		t.Fatalf("unexpected ids: %v, %v", msgs[0].ID, msgs[1].ID)
	}

	var res0 struct{ Ok bool }
	if err := json.Unmarshal(msgs[0].Result, &res0); err != nil || !res0.Ok {
		t.Fatalf("expected first result ok=true, got %+v (err %v)", res0, err)
	}
}

func TestFramer_ByteByByteFeedingProducesSameMessages(t *testing.T) {
	input := `{"jsonrpc":"2.0","id":1,"method":"tools/list"}` +
		`{"jsonrpc":"2.0","id":2,"result":{}}`

	f := jsonrpc.New(jsonrpc.Config{})
	var all []*jsonrpc.Message
	for i := 0; i < len(input); i++ {
		msgs, err := f.Feed([]byte{input[i]})
		if err != nil {
			t.Fatalf("unexpected error at byte %d: %v", i, err)
		}
		all = append(all, msgs...)
	}

	if len(all) != 2 {
		t.Fatalf("expected 2 messages across arbitrary byte partitioning, got %d", len(all))
	}
}

func TestFramer_BraceInsideStringDoesNotSplitFrame(t *testing.T) {
	f := jsonrpc.New(jsonrpc.Config{})
	input := `{"jsonrpc":"2.0","id":"x","result":{"text":"}{"}}`

	msgs, err := f.Feed([]byte(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected exactly 1 message, got %d", len(msgs))
	}
}

func TestFramer_EscapedQuoteDoesNotEndString(t *testing.T) {
	f := jsonrpc.New(jsonrpc.Config{})
	input := `{"jsonrpc":"2.0","id":"x","result":{"text":"a\"}{\"b"}}`

	msgs, err := f.Feed([]byte(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected exactly 1 message, got %d", len(msgs))
	}
}

func TestFramer_BufferOverflowLenientResetsAndRecovers(t *testing.T) {
	var gotErr error
	// 40 bytes holds the 39-byte good frame but not the 44-byte overflowing one.
	f := jsonrpc.New(jsonrpc.Config{
		MaxBufferSize: 40,
		OnError:       func(err error) { gotErr = err },
	})

	overflowing := `{"jsonrpc":"2.0","id":"way-too-long-to-fit"}`
	goodFrame := `{"jsonrpc":"2.0","id":"ok","result":{}}`

	msgs, err := f.Feed([]byte(overflowing + goodFrame))
	if err != nil {
		t.Fatalf("lenient mode must not return an error, got %v", err)
	}
	if gotErr == nil {
		t.Fatal("expected OnError to be invoked for the overflowing frame")
	}
	if len(msgs) != 1 || msgs[0].ID != "ok" {
		t.Fatalf("expected the well-formed frame after overflow to parse, got %+v", msgs)
	}
}

func TestFramer_BufferOverflowStrictFails(t *testing.T) {
	f := jsonrpc.New(jsonrpc.Config{MaxBufferSize: 4, Strict: true})

	_, err := f.Feed([]byte(`{"jsonrpc":"2.0","id":"too-long"}`))
	if err == nil {
		t.Fatal("expected strict mode to return an error on overflow")
	}
}

func TestFramer_MalformedFrameLenientContinues(t *testing.T) {
	var errs []error
	f := jsonrpc.New(jsonrpc.Config{OnError: func(err error) { errs = append(errs, err) }})

	bad := `{"jsonrpc": "2.0", "id": }` // invalid value for id
	good := `{"jsonrpc":"2.0","id":"z","result":{}}`

	msgs, err := f.Feed([]byte(bad + good))
	if err != nil {
		t.Fatalf("lenient mode must not return an error: %v", err)
	}
	if len(errs) != 1 {
		t.Fatalf("expected exactly one parse error, got %d", len(errs))
	}
	if len(msgs) != 1 || msgs[0].ID != "z" {
		t.Fatalf("expected the well-formed frame to still parse, got %+v", msgs)
	}
}

func TestFramer_MalformedFrameStrictFails(t *testing.T) {
	f := jsonrpc.New(jsonrpc.Config{Strict: true})
	_, err := f.Feed([]byte(`{"jsonrpc": "2.0", "id": }`))
	if err == nil {
		t.Fatal("expected strict mode to fail on malformed JSON")
	}
}

func TestNegotiateVersion(t *testing.T) {
	cases := []struct {
		peer []string
		want string
	}{
		{[]string{"2024-11-26", "2025-03-26"}, "2025-03-26"},
		{[]string{"2024-11-26"}, "2024-11-26"},
		{[]string{"1999-01-01"}, ""},
		{[]string{"2025-06-18", "2025-03-26", "2024-11-26"}, "2025-06-18"},
	}
	for _, c := range cases {
		if got := jsonrpc.NegotiateVersion(c.peer); got != c.want {
			t.Errorf("NegotiateVersion(%v) = %q, want %q", c.peer, got, c.want)
		}
	}
}

func TestFramer_LongBannerThenManyFrames(t *testing.T) {
	f := jsonrpc.New(jsonrpc.Config{})
	banner := strings.Repeat("log: starting up\n", 50)
	var frames strings.Builder
	for i := 0; i < 20; i++ {
		frames.WriteString(`{"jsonrpc":"2.0","id":` + itoa(i) + `,"result":{}}`)
	}

	msgs, err := f.Feed([]byte(banner + frames.String()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 20 {
		t.Fatalf("expected 20 messages, got %d", len(msgs))
	}
}

func itoa(i int) string {
	b, _ := json.Marshal(i)
	return string(b)
}
