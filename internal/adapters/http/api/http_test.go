package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/okian/dedupmq/internal/adapters/http/api"
	"github.com/okian/dedupmq/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

// mockDependencies drops every payload it has already seen, ignoring topics.
type mockDependencies struct {
	mu       sync.Mutex
	seen     map[string]bool
	calls    []string
	statsErr error
}

func (m *mockDependencies) Decide(_ context.Context, topic string, payload []byte) types.Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	m.calls = append(m.calls, topic+"|"+string(payload))
	if m.seen[string(payload)] {
		return types.Drop
	}
	m.seen[string(payload)] = true
	return types.Pass
}

func (m *mockDependencies) Stats(context.Context) (types.Stats, error) {
	if m.statsErr != nil {
		return types.Stats{}, m.statsErr
	}
	return types.Stats{
		Filters:    []string{"sensors/+/temp"},
		TTLSeconds: 60,
		Backend:    "memory",
		Passed:     3,
		Dropped:    1,
	}, nil
}

func newMux(deps api.Dependencies) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps).Register(mux)
	return mux
}

func do(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decisionOf(w *httptest.ResponseRecorder) string {
	var resp struct {
		Decision string `json:"decision"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return resp.Decision
}

func TestServer_Register(t *testing.T) {
	Convey("Given a new API server", t, func() {
		deps := &mockDependencies{}
		mux := newMux(deps)

		Convey("When probing health", func() {
			w := do(mux, http.MethodGet, "/healthz", "")

			Convey("Then it should answer ok", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"status":"ok"`)
			})
		})

		Convey("When scraping metrics after a request", func() {
			_ = do(mux, http.MethodGet, "/healthz", "")
			w := do(mux, http.MethodGet, "/metrics", "")

			Convey("Then prometheus text should be served", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, "dedupmq_http_requests_total")
			})
		})

		Convey("When fetching stats", func() {
			w := do(mux, http.MethodGet, "/stats", "")

			Convey("Then the counters should be returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)

				var stats types.Stats
				So(json.Unmarshal(w.Body.Bytes(), &stats), ShouldBeNil)
				So(stats.Filters, ShouldResemble, []string{"sensors/+/temp"})
				So(stats.TTLSeconds, ShouldEqual, 60)
				So(stats.Dropped, ShouldEqual, 1)
			})
		})

		Convey("When stats are unavailable", func() {
			deps.statsErr = errors.New("service not started")
			w := do(mux, http.MethodGet, "/stats", "")

			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			So(w.Body.String(), ShouldContainSubstring, `"code":"unavailable"`)
		})

		Convey("When an unknown path is requested", func() {
			w := do(mux, http.MethodGet, "/unknown", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestDecideHandler(t *testing.T) {
	Convey("Given a decide endpoint", t, func() {
		deps := &mockDependencies{}
		mux := newMux(deps)

		Convey("When a base64 payload is posted twice", func() {
			// "21.5" in base64
			body := `{"topic":"sensors/kitchen/temp","payload":"MjEuNQ=="}`
			first := do(mux, http.MethodPost, "/decide", body)
			second := do(mux, http.MethodPost, "/decide", body)

			Convey("Then the first should pass and the second drop", func() {
				So(first.Code, ShouldEqual, http.StatusOK)
				So(decisionOf(first), ShouldEqual, "pass")
				So(decisionOf(second), ShouldEqual, "drop")
			})

			Convey("And the decoded bytes should reach the engine", func() {
				So(deps.calls[0], ShouldEqual, "sensors/kitchen/temp|21.5")
			})
		})

		Convey("When a text payload is posted", func() {
			w := do(mux, http.MethodPost, "/decide", `{"topic":"a/b","payload_text":"hello"}`)

			So(decisionOf(w), ShouldEqual, "pass")
			So(deps.calls[0], ShouldEqual, "a/b|hello")
		})

		Convey("When the payload is omitted", func() {
			w := do(mux, http.MethodPost, "/decide", `{"topic":"a/b"}`)

			Convey("Then it is treated as the empty payload", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.calls[0], ShouldEqual, "a/b|")
			})
		})

		Convey("When the request is malformed", func() {
			cases := map[string]string{
				"invalid json":     `{"topic":`,
				"invalid base64":   `{"topic":"a","payload":"@@@"}`,
				"both payloads":    `{"topic":"a","payload":"eA==","payload_text":"x"}`,
				"unknown field":    `{"topic":"a","qos":1}`,
				"wrong topic type": `{"topic":5}`,
				"trailing garbage": `{"topic":"a"}garbage`,
				"second object":    `{"topic":"a"}{"topic":"b"}`,
			}
			for name, body := range cases {
				Convey("With "+name, func() {
					w := do(mux, http.MethodPost, "/decide", body)

					So(w.Code, ShouldEqual, http.StatusBadRequest)
					So(w.Body.String(), ShouldContainSubstring, `"code":"bad_request"`)
					So(len(deps.calls), ShouldEqual, 0)
				})
			}
		})

		Convey("When the object is followed by whitespace only", func() {
			w := do(mux, http.MethodPost, "/decide", "{\"topic\":\"a/b\"}\n  ")

			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.calls[0], ShouldEqual, "a/b|")
		})

		Convey("When the body is too large", func() {
			big := `{"topic":"a","payload_text":"` + strings.Repeat("x", 5<<20) + `"}`
			w := do(mux, http.MethodPost, "/decide", big)

			So(w.Code, ShouldEqual, http.StatusRequestEntityTooLarge)
			So(len(deps.calls), ShouldEqual, 0)
		})

		Convey("When a method other than POST is used", func() {
			w := do(mux, http.MethodGet, "/decide", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}
