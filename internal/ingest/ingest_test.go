package ingest

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/zulandar/huddle/internal/config"
	"github.com/zulandar/huddle/internal/db"
	"github.com/zulandar/huddle/internal/mention"
	"github.com/zulandar/huddle/internal/models"
	"github.com/zulandar/huddle/internal/relay"
	"github.com/zulandar/huddle/internal/room"
	"github.com/zulandar/huddle/internal/store"
)

type inbox struct {
	mu     sync.Mutex
	events []room.Event
}

func (i *inbox) Deliver(ev room.Event) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.events = append(i.events, ev)
	return true
}

func (i *inbox) named(name string) []room.Event {
	i.mu.Lock()
	defer i.mu.Unlock()
	var out []room.Event
	for _, ev := range i.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	store    *store.Store
	registry *room.Registry
	pipeline *Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gdb, err := db.Open(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.SeedUsers(gdb, []models.User{
		{ID: "u-alice", Username: "alice", Name: "Alice", Email: "alice@example.com"},
		{ID: "u-bob", Username: "bob", Name: "Bob", Email: "bob@example.com"},
		{ID: "u-carol", Username: "carol", Name: "Carol", Email: "carol@example.com"},
	}); err != nil {
		t.Fatalf("seed users: %v", err)
	}
	s, err := store.New(gdb)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	resolver, err := mention.NewResolver(mention.ResolverOpts{Directory: s, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	reg := room.NewRegistry()
	p, err := NewPipeline(PipelineOpts{
		Store:    s,
		Resolver: resolver,
		Users:    s,
		Fanout:   relay.NewLocal(reg),
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	return &harness{store: s, registry: reg, pipeline: p}
}

func (h *harness) listen(id room.ID) *inbox {
	sub := &inbox{}
	h.registry.Join(id, sub)
	return sub
}

func TestNewPipeline_Validation(t *testing.T) {
	h := newHarness(t)
	full := PipelineOpts{
		Store:    h.store,
		Resolver: &stubResolver{},
		Users:    h.store,
		Fanout:   relay.NewLocal(h.registry),
	}
	tests := []struct {
		name    string
		mutate  func(*PipelineOpts)
		wantErr string
	}{
		{"store", func(o *PipelineOpts) { o.Store = nil }, "store is required"},
		{"resolver", func(o *PipelineOpts) { o.Resolver = nil }, "resolver is required"},
		{"users", func(o *PipelineOpts) { o.Users = nil }, "users is required"},
		{"fanout", func(o *PipelineOpts) { o.Fanout = nil }, "fanout is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := full
			tt.mutate(&opts)
			_, err := NewPipeline(opts)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestPost_RepeatedMentionsNotifyOnce(t *testing.T) {
	h := newHarness(t)
	thread := h.listen(room.Thread("c1"))
	alice := h.listen(room.User("u-alice"))
	bob := h.listen(room.User("u-bob"))
	carol := h.listen(room.User("u-carol"))

	res, err := h.pipeline.Post(context.Background(), Post{
		CandidateID: "c1",
		SenderID:    "u-carol",
		Body:        "hello @alice and @alice again @bob",
		Source:      SourceSocket,
	})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}

	if got := strings.Join(res.Tagged, ","); got != "u-alice,u-bob" {
		t.Errorf("Tagged = %s, want u-alice,u-bob", got)
	}
	n, err := h.store.CountNotifications(context.Background(), res.Message.ID)
	if err != nil {
		t.Fatalf("CountNotifications: %v", err)
	}
	if n != 2 {
		t.Errorf("notifications = %d, want 2", n)
	}

	if got := len(thread.named(EventNewMessage)); got != 1 {
		t.Errorf("thread newMessage events = %d, want 1", got)
	}
	if got := len(alice.named(EventTagged)); got != 1 {
		t.Errorf("alice tagged events = %d, want 1", got)
	}
	if got := len(bob.named(EventTagged)); got != 1 {
		t.Errorf("bob tagged events = %d, want 1", got)
	}
	if got := len(carol.named(EventTagged)); got != 0 {
		t.Errorf("sender tagged events = %d, want 0", got)
	}

	tagged, ok := alice.named(EventTagged)[0].Data.(Tagged)
	if !ok {
		t.Fatalf("tagged payload type %T", alice.named(EventTagged)[0].Data)
	}
	if tagged.CandidateID != "c1" || tagged.Message.ID != res.Message.ID {
		t.Errorf("tagged = %+v", tagged)
	}
	if tagged.Preview != "hello @alice and @alice again @bob" {
		t.Errorf("Preview = %q", tagged.Preview)
	}
}

func TestPost_SenderDenormalized(t *testing.T) {
	h := newHarness(t)
	res, err := h.pipeline.Post(context.Background(), Post{CandidateID: "c1", SenderID: "u-carol", Body: "hi"})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	want := Sender{ID: "u-carol", Name: "Carol", Email: "carol@example.com", Username: "carol"}
	if res.Message.Sender != want {
		t.Errorf("Sender = %+v, want %+v", res.Message.Sender, want)
	}
	if len(res.Message.Tags) != 0 || res.Message.Tags == nil {
		t.Errorf("Tags = %#v, want empty non-nil", res.Message.Tags)
	}
}

func TestPost_UnknownSenderRendersID(t *testing.T) {
	h := newHarness(t)
	res, err := h.pipeline.Post(context.Background(), Post{CandidateID: "c1", SenderID: "u-ghost", Body: "hi"})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if res.Message.Sender != (Sender{ID: "u-ghost"}) {
		t.Errorf("Sender = %+v", res.Message.Sender)
	}
}

func TestPost_NoSubscribersStillStored(t *testing.T) {
	h := newHarness(t)
	res, err := h.pipeline.Post(context.Background(), Post{CandidateID: "c9", SenderID: "u-alice", Body: "nobody listening"})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	history, err := h.store.ThreadHistory(context.Background(), "c9")
	if err != nil {
		t.Fatalf("ThreadHistory: %v", err)
	}
	if len(history) != 1 || history[0].ID != res.Message.ID {
		t.Fatalf("history = %+v", history)
	}
	if history[0].Body != "nobody listening" {
		t.Errorf("Body = %q", history[0].Body)
	}
}

func TestPost_SanitizesBody(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantBody   string
		wantTagged []string
	}{
		{"markup stripped", `<b>bold</b> @alice <script>alert(1)</script>`, "bold @alice", []string{"u-alice"}},
		{"plain punctuation kept", `it's Q&A "ok" @bob`, `it's Q&A "ok" @bob`, []string{"u-bob"}},
		{"mention after line break", "see<br>@alice", "see @alice", []string{"u-alice"}},
		{"mention after closing block", "<p>hi</p><p>@bob</p>", "hi @bob", []string{"u-bob"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			res, err := h.pipeline.Post(context.Background(), Post{
				CandidateID: "c1",
				SenderID:    "u-carol",
				Body:        tt.body,
			})
			if err != nil {
				t.Fatalf("Post: %v", err)
			}
			if res.Message.Body != tt.wantBody {
				t.Errorf("Body = %q, want %q", res.Message.Body, tt.wantBody)
			}
			if !reflect.DeepEqual(res.Tagged, tt.wantTagged) {
				t.Errorf("Tagged = %v, want %v", res.Tagged, tt.wantTagged)
			}
		})
	}
}

func TestPost_RejectsWithoutSideEffects(t *testing.T) {
	tests := []struct {
		name    string
		post    Post
		wantErr error
	}{
		{"whitespace only", Post{CandidateID: "c1", SenderID: "u-carol", Body: "   \n\t "}, ErrEmptyBody},
		{"empty", Post{CandidateID: "c1", SenderID: "u-carol"}, ErrEmptyBody},
		{"markup only", Post{CandidateID: "c1", SenderID: "u-carol", Body: "<script>x</script>"}, ErrEmptyBody},
		{"missing candidate", Post{SenderID: "u-carol", Body: "hi @alice"}, ErrInvalid},
		{"missing sender", Post{CandidateID: "c1", Body: "hi @alice"}, ErrInvalid},
		{"long client key", Post{CandidateID: "c1", SenderID: "u-carol", Body: "hi", ClientKey: strings.Repeat("k", 65)}, ErrInvalid},
		{"bad utf8", Post{CandidateID: "c1", SenderID: "u-carol", Body: "hi \xff"}, ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			thread := h.listen(room.Thread("c1"))
			alice := h.listen(room.User("u-alice"))

			_, err := h.pipeline.Post(context.Background(), tt.post)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			history, _ := h.store.ThreadHistory(context.Background(), "c1")
			if len(history) != 0 {
				t.Errorf("history has %d messages, want 0", len(history))
			}
			if len(thread.named(EventNewMessage)) != 0 || len(alice.named(EventTagged)) != 0 {
				t.Error("rejected post was broadcast")
			}
		})
	}
}

func TestPost_DuplicateClientKeySkipsFanout(t *testing.T) {
	h := newHarness(t)
	thread := h.listen(room.Thread("c1"))
	alice := h.listen(room.User("u-alice"))

	post := Post{CandidateID: "c1", SenderID: "u-carol", Body: "hi @alice", ClientKey: "k-1"}
	first, err := h.pipeline.Post(context.Background(), post)
	if err != nil {
		t.Fatalf("first Post: %v", err)
	}
	second, err := h.pipeline.Post(context.Background(), post)
	if err != nil {
		t.Fatalf("second Post: %v", err)
	}

	if !second.Duplicate || first.Duplicate {
		t.Errorf("Duplicate flags = %v, %v; want false, true", first.Duplicate, second.Duplicate)
	}
	if second.Message.ID != first.Message.ID {
		t.Errorf("duplicate returned %s, want %s", second.Message.ID, first.Message.ID)
	}
	if second.Message.ClientKey != "k-1" {
		t.Errorf("ClientKey = %q", second.Message.ClientKey)
	}
	if got := len(thread.named(EventNewMessage)); got != 1 {
		t.Errorf("newMessage events = %d, want 1", got)
	}
	if got := len(alice.named(EventTagged)); got != 1 {
		t.Errorf("tagged events = %d, want 1", got)
	}
	n, _ := h.store.CountNotifications(context.Background(), first.Message.ID)
	if n != 1 {
		t.Errorf("notifications = %d, want 1", n)
	}
}

func TestPost_CancelledCallerStillDelivers(t *testing.T) {
	h := newHarness(t)
	thread := h.listen(room.Thread("c1"))

	rec := &cancellingRecorder{inner: h.store}
	p, err := NewPipeline(PipelineOpts{
		Store:    rec,
		Resolver: &stubResolver{},
		Users:    h.store,
		Fanout:   &ctxCheckingFanout{inner: relay.NewLocal(h.registry), t: t},
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	rec.cancel = cancel
	if _, err := p.Post(ctx, Post{CandidateID: "c1", SenderID: "u-carol", Body: "hi"}); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if got := len(thread.named(EventNewMessage)); got != 1 {
		t.Errorf("newMessage events = %d, want 1", got)
	}
}

func TestPost_PersistenceFailureNoBroadcast(t *testing.T) {
	h := newHarness(t)
	thread := h.listen(room.Thread("c1"))
	alice := h.listen(room.User("u-alice"))

	p, err := NewPipeline(PipelineOpts{
		Store:    failingRecorder{},
		Resolver: &stubResolver{users: []models.User{{ID: "u-alice", Username: "alice"}}},
		Users:    h.store,
		Fanout:   relay.NewLocal(h.registry),
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	_, err = p.Post(context.Background(), Post{CandidateID: "c1", SenderID: "u-carol", Body: "hi @alice"})
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("err = %v, want ErrPersistence", err)
	}
	if len(thread.named(EventNewMessage)) != 0 || len(alice.named(EventTagged)) != 0 {
		t.Error("failed post was broadcast")
	}
}

func TestPost_PreviewTruncated(t *testing.T) {
	h := newHarness(t)
	alice := h.listen(room.User("u-alice"))

	body := "@alice " + strings.Repeat("x", 200)
	if _, err := h.pipeline.Post(context.Background(), Post{CandidateID: "c1", SenderID: "u-carol", Body: body}); err != nil {
		t.Fatalf("Post: %v", err)
	}
	events := alice.named(EventTagged)
	if len(events) != 1 {
		t.Fatalf("tagged events = %d, want 1", len(events))
	}
	preview := events[0].Data.(Tagged).Preview
	if n := len([]rune(preview)); n != mention.DefaultPreviewLength {
		t.Errorf("preview length = %d, want %d", n, mention.DefaultPreviewLength)
	}
}

type stubResolver struct {
	users []models.User
}

func (s *stubResolver) Resolve(context.Context, string) []models.User { return s.users }

type failingRecorder struct{}

func (failingRecorder) RecordMessage(context.Context, *models.Message, []string) (*models.Message, bool, error) {
	return nil, false, errors.New("disk full")
}

// cancellingRecorder cancels the caller's context right after the commit.
type cancellingRecorder struct {
	inner  Recorder
	cancel context.CancelFunc
}

func (c *cancellingRecorder) RecordMessage(ctx context.Context, msg *models.Message, recipients []string) (*models.Message, bool, error) {
	saved, dup, err := c.inner.RecordMessage(ctx, msg, recipients)
	c.cancel()
	return saved, dup, err
}

type ctxCheckingFanout struct {
	inner relay.Fanout
	t     *testing.T
}

func (f *ctxCheckingFanout) Publish(ctx context.Context, id room.ID, ev room.Event) error {
	if err := ctx.Err(); err != nil {
		f.t.Errorf("fan-out context already done: %v", err)
	}
	return f.inner.Publish(ctx, id, ev)
}
