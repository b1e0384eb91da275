package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// -------------------- 系统监控 --------------------

type SystemStats struct {
	Timestamp   time.Time
	MemoryAlloc uint64
	MemorySys   uint64
	Goroutines  int
	Sockets     int64
}

type Monitor struct {
	mu       sync.Mutex
	stats    []SystemStats
	interval time.Duration
	sockets  *atomic.Int64
	stopChan chan struct{}
}

func NewMonitor(interval time.Duration, sockets *atomic.Int64) *Monitor {
	return &Monitor{
		stats:    make([]SystemStats, 0, 512),
		interval: interval,
		sockets:  sockets,
		stopChan: make(chan struct{}),
	}
}

func (m *Monitor) collectStats() SystemStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s := SystemStats{
		Timestamp:   time.Now(),
		MemoryAlloc: ms.Alloc,
		MemorySys:   ms.Sys,
		Goroutines:  runtime.NumGoroutine(),
		Sockets:     m.sockets.Load(),
	}
	m.mu.Lock()
	m.stats = append(m.stats, s)
	m.mu.Unlock()
	return s
}

func (m *Monitor) Start() {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s := m.collectStats()
				fmt.Printf("[%s] 内存: %.1fMB/%.1fMB | Goroutines: %d | WebSocket: %d\n",
					s.Timestamp.Format("15:04:05"),
					float64(s.MemoryAlloc)/1024/1024, float64(s.MemorySys)/1024/1024,
					s.Goroutines, s.Sockets,
				)
			case <-m.stopChan:
				return
			}
		}
	}()
}

func (m *Monitor) Stop() { close(m.stopChan) }

func (m *Monitor) SaveToFile(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	m.mu.Lock()
	defer m.mu.Unlock()
	_, _ = f.WriteString("Timestamp,MemoryAlloc,MemorySys,Goroutines,Sockets\n")
	for _, s := range m.stats {
		_, _ = fmt.Fprintf(f, "%s,%d,%d,%d,%d\n",
			s.Timestamp.Format("2006-01-02 15:04:05"), s.MemoryAlloc, s.MemorySys, s.Goroutines, s.Sockets)
	}
	return nil
}

// -------------------- 延迟统计 --------------------

type LatencyStats struct {
	mu        sync.Mutex
	name      string
	samples   []time.Duration
	failed    int
	startedAt time.Time
}

func NewLatencyStats(name string) *LatencyStats {
	return &LatencyStats{name: name, startedAt: time.Now()}
}

func (s *LatencyStats) Add(success bool, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !success {
		s.failed++
		return
	}
	s.samples = append(s.samples, latency)
}

func (s *LatencyStats) Report() {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := len(s.samples) + s.failed
	fmt.Printf("\n=== %s ===\n", s.name)
	fmt.Printf("总数: %d 成功: %d 失败: %d\n", total, len(s.samples), s.failed)
	if len(s.samples) == 0 {
		return
	}
	sorted := append([]time.Duration(nil), s.samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	pct := func(p float64) time.Duration { return sorted[int(float64(len(sorted)-1)*p)] }
	fmt.Printf("延迟 平均: %v p50: %v p95: %v p99: %v 最大: %v\n",
		sum/time.Duration(len(sorted)), pct(0.5), pct(0.95), pct(0.99), sorted[len(sorted)-1])
	if took := time.Since(s.startedAt); took > 0 {
		fmt.Printf("吞吐: %.2f/s\n", float64(len(s.samples))/took.Seconds())
	}
}

// -------------------- 客户端 --------------------

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type benchUser struct {
	ID    uint   `json:"id"`
	Email string `json:"email"`
	token string
	conn  *websocket.Conn
}

var httpClient = &http.Client{Timeout: 8 * time.Second}

func call(method, url, token string, body interface{}, out interface{}) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return resp, err
	}
	if resp.StatusCode >= 300 {
		return resp, fmt.Errorf("%s %s: %d %s", method, url, resp.StatusCode, env.Message)
	}
	if out != nil && len(env.Data) > 0 {
		return resp, json.Unmarshal(env.Data, out)
	}
	return resp, nil
}

// signup 注册一个压测用户，令牌取自 jwt cookie
func signup(base string, i int) (*benchUser, error) {
	email := fmt.Sprintf("bench-%d-%s@example.com", i, uuid.NewString()[:8])
	u := &benchUser{}
	resp, err := call(http.MethodPost, base+"/api/auth/signup", "", map[string]string{
		"fullName": fmt.Sprintf("Bench %d", i),
		"email":    email,
		"password": "bench-password",
	}, u)
	if err != nil {
		return nil, err
	}
	for _, c := range resp.Cookies() {
		if c.Name == "jwt" {
			u.token = c.Value
		}
	}
	if u.token == "" {
		return nil, fmt.Errorf("signup %s: no token cookie", email)
	}
	return u, nil
}

func wsURL(base string) string {
	return "ws" + strings.TrimPrefix(base, "http") + "/ws"
}

// -------------------- 入口 --------------------

func main() {
	base := flag.String("base", "http://localhost:8080", "server base URL")
	users := flag.Int("users", 20, "number of users (paired up)")
	perUser := flag.Int("messages", 20, "messages sent by each user")
	interval := flag.Duration("interval", 20*time.Millisecond, "pause between sends")
	csv := flag.String("csv", "system_monitor.csv", "monitor output file")
	flag.Parse()

	if *users < 2 {
		*users = 2
	}

	fmt.Println("=== Chatify 并发与实时投递测试 ===")
	fmt.Printf("开始时间: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Printf("目标: %s 用户: %d 每用户消息: %d\n", *base, *users, *perUser)

	var sockets atomic.Int64
	mon := NewMonitor(time.Second, &sockets)
	mon.Start()

	// 1. 注册用户并建立WebSocket连接
	accounts := make([]*benchUser, 0, *users)
	for i := 0; i < *users; i++ {
		u, err := signup(*base, i)
		if err != nil {
			fmt.Println("注册失败:", err)
			os.Exit(1)
		}
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(*base)+"?token="+u.token, nil)
		if err != nil {
			fmt.Println("WebSocket连接失败:", err)
			os.Exit(1)
		}
		sockets.Add(1)
		u.conn = conn
		accounts = append(accounts, u)
	}

	// 2. 接收端：统计 newMessage 从发送到收到的延迟
	sentAt := sync.Map{}
	delivery := NewLatencyStats("实时投递延迟 (POST -> newMessage)")
	var readers sync.WaitGroup
	for _, u := range accounts {
		readers.Add(1)
		go func(u *benchUser) {
			defer readers.Done()
			defer sockets.Add(-1)
			for {
				_, raw, err := u.conn.ReadMessage()
				if err != nil {
					return
				}
				var frame struct {
					Event string          `json:"event"`
					Data  json.RawMessage `json:"data"`
				}
				if json.Unmarshal(raw, &frame) != nil || frame.Event != "newMessage" {
					continue
				}
				var m struct {
					Text string `json:"text"`
				}
				if json.Unmarshal(frame.Data, &m) != nil {
					continue
				}
				if v, ok := sentAt.LoadAndDelete(m.Text); ok {
					delivery.Add(true, time.Since(v.(time.Time)))
				}
			}
		}(u)
	}

	// 3. 发送端：用户两两配对互发
	send := NewLatencyStats("发送接口延迟 (POST /api/messages/send/:id)")
	var senders sync.WaitGroup
	for i, u := range accounts {
		j := i ^ 1
		if j >= len(accounts) {
			j = 0
		}
		peer := accounts[j]
		senders.Add(1)
		go func(from, to *benchUser) {
			defer senders.Done()
			for j := 0; j < *perUser; j++ {
				text := uuid.NewString()
				sentAt.Store(text, time.Now())
				start := time.Now()
				_, err := call(http.MethodPost, fmt.Sprintf("%s/api/messages/send/%d", *base, to.ID), from.token,
					map[string]string{"text": text}, nil)
				send.Add(err == nil, time.Since(start))
				if err != nil {
					sentAt.Delete(text)
				}
				time.Sleep(*interval)
			}
		}(u, peer)
	}
	senders.Wait()

	// 等待在途事件
	time.Sleep(2 * time.Second)
	lost := 0
	sentAt.Range(func(_, _ interface{}) bool {
		lost++
		return true
	})

	for _, u := range accounts {
		_ = u.conn.Close()
	}
	readers.Wait()
	mon.Stop()

	send.Report()
	delivery.Report()
	fmt.Printf("未收到实时事件: %d\n", lost)

	if err := mon.SaveToFile(*csv); err != nil {
		fmt.Println("保存监控数据失败:", err)
	} else {
		fmt.Println("监控数据已保存:", *csv)
	}
	fmt.Println("\n=== 测试完成 ===")
}
