package services

import (
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// 保持する件数の上限
const (
	maxLogEntries   = 10000
	maxEngineEvents = 500
)

// LogEntry は単一のリクエストログを表します。
type LogEntry struct {
	Timestamp    time.Time     `json:"timestamp"`
	Path         string        `json:"path"`
	Method       string        `json:"method"`
	StatusCode   int           `json:"status_code"`
	ResponseTime time.Duration `json:"response_time"`
}

// EngineEvent は再学習・保存・読込などエンジン側の出来事です。
type EngineEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// MonitoringService はAPIとエンジンのモニタリング機能を提供します。
type MonitoringService struct {
	logs   []LogEntry
	events []EngineEvent
	mu     sync.RWMutex
}

// NewMonitoringService は新しいMonitoringServiceを生成します。
func NewMonitoringService() *MonitoringService {
	return &MonitoringService{
		logs:   make([]LogEntry, 0),
		events: make([]EngineEvent, 0),
	}
}

// LogRequest はリクエストを記録します。
func (s *MonitoringService) LogRequest(entry LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	if len(s.logs) > maxLogEntries {
		s.logs = s.logs[len(s.logs)-maxLogEntries:]
	}
}

// RecordEvent はエンジンイベントを記録します。
func (s *MonitoringService) RecordEvent(kind, message string, err error) {
	event := EngineEvent{
		Timestamp: time.Now(),
		Kind:      kind,
		Message:   message,
		Success:   err == nil,
	}
	if err != nil {
		event.Error = err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	if len(s.events) > maxEngineEvents {
		s.events = s.events[len(s.events)-maxEngineEvents:]
	}
}

// GetEvents は新しい順にエンジンイベントを返します。kind が空なら全種別。
func (s *MonitoringService) GetEvents(kind string, limit int) []EngineEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]EngineEvent, 0)
	for i := len(s.events) - 1; i >= 0; i-- {
		if kind != "" && s.events[i].Kind != kind {
			continue
		}
		result = append(result, s.events[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result
}

// LoggingMiddleware はリクエスト情報を記録するGinミドルウェアです。
func (s *MonitoringService) LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// 管理系・監視系のリクエストは記録しない
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/api/v1/admin") || strings.HasPrefix(path, "/api/v1/monitoring") || path == "/metrics" {
			return
		}

		s.LogRequest(LogEntry{
			Timestamp:    start,
			Path:         path,
			Method:       c.Request.Method,
			StatusCode:   c.Writer.Status(),
			ResponseTime: time.Since(start),
		})
	}
}

// DashboardData はダッシュボードに表示するための集計済みデータです。
type DashboardData struct {
	RequestsOverTime []map[string]interface{} `json:"requestsOverTime"`
	Endpoints        map[string]int           `json:"endpoints"`
	StatusCodes      []map[string]interface{} `json:"statusCodes"`
	AvgResponseTimes []map[string]interface{} `json:"avgResponseTimes"`
	RecentErrors     []LogEntry               `json:"recentErrors"`
	RecentEvents     []EngineEvent            `json:"recentEvents"`
}

// GetDashboardData は指定された期間のログを集計してダッシュボード用データを返します。
func (s *MonitoringService) GetDashboardData(periodHours int) DashboardData {
	if periodHours <= 0 {
		periodHours = 1
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	jst, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		jst = time.UTC
	}

	now := time.Now().In(jst)
	since := now.Add(-time.Duration(periodHours) * time.Hour)

	filtered := make([]LogEntry, 0)
	for _, entry := range s.logs {
		if entry.Timestamp.After(since) {
			filtered = append(filtered, entry)
		}
	}

	// 1時間ごとのバケット（過去から現在の順）
	requestsOverTime := make([]map[string]interface{}, periodHours)
	hourly := make(map[string]int)
	for _, entry := range filtered {
		hourly[entry.Timestamp.In(jst).Truncate(time.Hour).Format(time.RFC3339)]++
	}
	for i := 0; i < periodHours; i++ {
		target := now.Add(-time.Duration(periodHours-1-i) * time.Hour)
		bucketKey := target.Truncate(time.Hour).Format(time.RFC3339)
		requestsOverTime[i] = map[string]interface{}{"time": target.Format("15:00"), "requests": hourly[bucketKey]}
	}

	endpoints := make(map[string]int)
	responseTimeSum := make(map[string]time.Duration)
	statusCodes := map[string]int{
		"2xx Success":      0,
		"4xx Client Error": 0,
		"5xx Server Error": 0,
	}
	for _, entry := range filtered {
		endpoints[entry.Path]++
		responseTimeSum[entry.Path] += entry.ResponseTime
		switch {
		case entry.StatusCode >= 200 && entry.StatusCode < 300:
			statusCodes["2xx Success"]++
		case entry.StatusCode >= 400 && entry.StatusCode < 500:
			statusCodes["4xx Client Error"]++
		case entry.StatusCode >= 500:
			statusCodes["5xx Server Error"]++
		}
	}

	statusCodesSlice := make([]map[string]interface{}, 0, len(statusCodes))
	for name, value := range statusCodes {
		statusCodesSlice = append(statusCodesSlice, map[string]interface{}{"name": name, "value": value})
	}

	avgResponseTimes := make([]map[string]interface{}, 0, len(responseTimeSum))
	for path, total := range responseTimeSum {
		avg := total.Milliseconds() / int64(endpoints[path])
		avgResponseTimes = append(avgResponseTimes, map[string]interface{}{"endpoint": path, "responseTime": avg})
	}

	recentErrors := make([]LogEntry, 0)
	for i := len(filtered) - 1; i >= 0 && len(recentErrors) < 10; i-- {
		if filtered[i].StatusCode >= 500 {
			recentErrors = append(recentErrors, filtered[i])
		}
	}

	recentEvents := make([]EngineEvent, 0)
	for i := len(s.events) - 1; i >= 0 && len(recentEvents) < 10; i-- {
		if s.events[i].Timestamp.After(since) {
			recentEvents = append(recentEvents, s.events[i])
		}
	}

	return DashboardData{
		RequestsOverTime: requestsOverTime,
		Endpoints:        endpoints,
		StatusCodes:      statusCodesSlice,
		AvgResponseTimes: avgResponseTimes,
		RecentErrors:     recentErrors,
		RecentEvents:     recentEvents,
	}
}
