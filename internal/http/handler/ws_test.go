package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"shopscout.app/research/core/config"
	"shopscout.app/research/internal/http/handler"
	"shopscout.app/research/internal/model"
	"shopscout.app/research/internal/service"
	"shopscout.app/research/internal/ws"
)

var _ = Describe("WSHandler", func() {
	var (
		srv     *httptest.Server
		manager *ws.ConnectionManager
		jobs    *mockJobManager
		cfg     config.WebSocketConfig
		jobID   uuid.UUID
	)

	wsURL := func(path string) string {
		return "ws" + strings.TrimPrefix(srv.URL, "http") + path
	}

	dial := func(ctx context.Context, path string) *websocket.Conn {
		conn, _, err := websocket.Dial(ctx, wsURL(path), nil)
		Expect(err).NotTo(HaveOccurred())
		return conn
	}

	readEnvelope := func(ctx context.Context, conn *websocket.Conn) map[string]any {
		_, data, err := conn.Read(ctx)
		Expect(err).NotTo(HaveOccurred())

		var env map[string]any
		Expect(json.Unmarshal(data, &env)).To(Succeed())
		return env
	}

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		manager = ws.NewConnectionManager(discardLogger())
		jobs = &mockJobManager{}
		cfg = config.WebSocketConfig{MaxConnectionsPerIP: 5, IdleTimeout: time.Minute}
		jobID = uuid.New()

		jobs.getFn = func(_ context.Context, id uuid.UUID) (*model.ResearchJob, error) {
			if id != jobID {
				return nil, service.ErrJobNotFound
			}
			return &model.ResearchJob{
				ID:              jobID,
				Status:          model.JobStatusProcessing,
				TotalItems:      3,
				SuccessfulItems: 1,
			}, nil
		}

		router := gin.New()
		h := handler.NewWSHandler(manager, jobs, cfg)
		rg := router.Group("/ws")
		rg.GET("/jobs/:job_id", h.Subscribe)
		rg.GET("/stats", h.Stats)
		srv = httptest.NewServer(router)
	})

	AfterEach(func() {
		srv.Close()
	})

	Describe("Subscribe", func() {
		It("pushes the current job status on connect", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			conn := dial(ctx, "/ws/jobs/"+jobID.String())
			defer conn.Close(websocket.StatusNormalClosure, "")

			env := readEnvelope(ctx, conn)
			Expect(env["type"]).To(Equal("job_status"))
			Expect(env["job_id"]).To(Equal(jobID.String()))

			data := env["data"].(map[string]any)
			Expect(data["status"]).To(Equal("processing"))
			Expect(data["total_items"]).To(Equal(float64(3)))
			Expect(data["successful_items"]).To(Equal(float64(1)))
		})

		It("answers ping with pong", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			conn := dial(ctx, "/ws/jobs/"+jobID.String())
			defer conn.Close(websocket.StatusNormalClosure, "")

			readEnvelope(ctx, conn)

			Expect(conn.Write(ctx, websocket.MessageText, []byte("ping"))).To(Succeed())

			_, data, err := conn.Read(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("pong"))
		})

		It("re-sends the status on get_status", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			conn := dial(ctx, "/ws/jobs/"+jobID.String())
			defer conn.Close(websocket.StatusNormalClosure, "")

			readEnvelope(ctx, conn)

			Expect(conn.Write(ctx, websocket.MessageText, []byte("get_status"))).To(Succeed())

			env := readEnvelope(ctx, conn)
			Expect(env["type"]).To(Equal("job_status"))
		})

		It("closes with 4000 on a malformed job id", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			conn := dial(ctx, "/ws/jobs/not-a-uuid")

			_, _, err := conn.Read(ctx)
			Expect(websocket.CloseStatus(err)).To(Equal(websocket.StatusCode(4000)))
		})

		It("closes with 4004 when the job does not exist", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			conn := dial(ctx, "/ws/jobs/"+uuid.NewString())

			_, _, err := conn.Read(ctx)
			Expect(websocket.CloseStatus(err)).To(Equal(websocket.StatusCode(4004)))
		})

		It("closes with 4008 when the client holds too many connections", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			cfg.MaxConnectionsPerIP = 1

			router := gin.New()
			h := handler.NewWSHandler(manager, jobs, cfg)
			router.GET("/ws/jobs/:job_id", h.Subscribe)
			limited := httptest.NewServer(router)
			defer limited.Close()

			url := "ws" + strings.TrimPrefix(limited.URL, "http") + "/ws/jobs/" + jobID.String()

			first, _, err := websocket.Dial(ctx, url, nil)
			Expect(err).NotTo(HaveOccurred())
			defer first.Close(websocket.StatusNormalClosure, "")
			readEnvelope(ctx, first)

			second, _, err := websocket.Dial(ctx, url, nil)
			Expect(err).NotTo(HaveOccurred())

			_, _, err = second.Read(ctx)
			Expect(websocket.CloseStatus(err)).To(Equal(websocket.StatusCode(4008)))
		})
	})

	Describe("Stats", func() {
		It("reports live connection counts", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			conn := dial(ctx, "/ws/jobs/"+jobID.String())
			defer conn.Close(websocket.StatusNormalClosure, "")
			readEnvelope(ctx, conn)

			resp, err := http.Get(srv.URL + "/ws/stats")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var stats map[string]any
			Expect(json.NewDecoder(resp.Body).Decode(&stats)).To(Succeed())
			Expect(stats["total_connections"]).To(Equal(float64(1)))
			Expect(stats["active_jobs"]).To(Equal(float64(1)))

			jobConns := stats["job_connections"].(map[string]any)
			Expect(jobConns[jobID.String()]).To(Equal(float64(1)))
		})
	})
})
