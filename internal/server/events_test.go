package server

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/habituals/internal/realtime"
)

func TestEventsStreamDeliversHabitChanges(t *testing.T) {
	env := newTestEnvironment(t)
	server := httptest.NewServer(env.handler)
	t.Cleanup(server.Close)

	token := env.token(t, "user-1")
	request, err := http.NewRequest(http.MethodGet, server.URL+"/events?access_token="+token, http.NoBody)
	if err != nil {
		t.Fatalf("build stream request: %v", err)
	}
	response, err := server.Client().Do(request)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	t.Cleanup(func() { _ = response.Body.Close() })
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status %d", response.StatusCode)
	}
	if !strings.HasPrefix(response.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("unexpected content type %q", response.Header.Get("Content-Type"))
	}

	deadline := time.Now().Add(5 * time.Second)
	for env.dispatcher.SubscriberCount("user-1") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("stream never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	created := env.do(t, http.MethodPost, "/habits", token, `{"title":"Walk"}`, nil)
	if created.Code != http.StatusOK {
		t.Fatalf("create habit: status %d", created.Code)
	}
	var habit struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(created.Body.Bytes(), &habit); err != nil {
		t.Fatalf("decode habit: %v", err)
	}

	type streamEvent struct {
		name string
		data string
	}
	received := make(chan streamEvent, 1)
	go func() {
		reader := bufio.NewReader(response.Body)
		var name string
		for {
			line, readErr := reader.ReadString('\n')
			if readErr != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			switch {
			case strings.HasPrefix(line, "event:"):
				name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				received <- streamEvent{name: name, data: strings.TrimSpace(strings.TrimPrefix(line, "data:"))}
				return
			}
		}
	}()

	select {
	case event := <-received:
		if event.name != realtime.EventHabitsChanged {
			t.Fatalf("unexpected event %q", event.name)
		}
		var payload eventPayload
		if err := json.Unmarshal([]byte(event.data), &payload); err != nil {
			t.Fatalf("decode event payload: %v", err)
		}
		if len(payload.HabitIDs) != 1 || payload.HabitIDs[0] != habit.ID {
			t.Fatalf("unexpected habit ids %v", payload.HabitIDs)
		}
		if payload.Source != realtime.SourceBackend {
			t.Fatalf("unexpected source %q", payload.Source)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for stream event")
	}
}
