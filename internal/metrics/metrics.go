package metrics

// Metrics collection for device queries

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OperationType represents the kind of exchange with a device
type OperationType string

const (
	OperationQuery     OperationType = "QUERY"
	OperationSend      OperationType = "SEND"
	OperationBroadcast OperationType = "BROADCAST"
	OperationReceive   OperationType = "RECEIVE"
	OperationServe     OperationType = "SERVE"
)

// Outcome classifies how an exchange ended.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeChecksum  Outcome = "checksum"
	OutcomeAck       Outcome = "ack"
	OutcomeTransport Outcome = "transport"
	OutcomeEncode    Outcome = "encode"
	OutcomeFraming   Outcome = "framing"
)

// Metric represents a single exchange with a device
type Metric struct {
	ID            string        `json:"id"`
	Timestamp     time.Time     `json:"timestamp"`
	Device        string        `json:"device"`
	Protocol      string        `json:"protocol"`
	Operation     OperationType `json:"operation"`
	Success       bool          `json:"success"`
	RTTMs         float64       `json:"rtt_ms"`
	JitterMs      float64       `json:"jitter_ms,omitempty"`
	RequestBytes  int           `json:"request_bytes"`
	ResponseBytes int           `json:"response_bytes"`
	Ack           uint8         `json:"ack"`
	Outcome       Outcome       `json:"outcome"`
	Error         string        `json:"error,omitempty"`
}

// NewID returns a fresh identifier for a metric.
func NewID() string {
	return uuid.NewString()
}

// Sink collects and aggregates metrics. It is safe for concurrent use.
type Sink struct {
	mu      sync.RWMutex
	metrics []Metric
	summary *Summary
	lastRTT map[string]float64
}

func newSummary() *Summary {
	return &Summary{
		RTTBuckets:     make(map[string]int),
		RTTByOperation: make(map[OperationType]*Stats),
		RTTByDevice:    make(map[string]*Stats),
		Outcomes:       make(map[Outcome]int),
	}
}

// Summary contains aggregated statistics
type Summary struct {
	TotalOperations    int
	SuccessfulOps      int
	FailedOps          int
	TimeoutCount       int
	ChecksumFailures   int
	AckFailures        int
	ConnectionFailures int
	MinRTT             float64
	MaxRTT             float64
	AvgRTT             float64
	P50RTT             float64
	P90RTT             float64
	P95RTT             float64
	P99RTT             float64
	AvgJitter          float64
	MaxJitter          float64
	jitterCount        int
	RTTBuckets         map[string]int
	RTTByOperation     map[OperationType]*Stats
	RTTByDevice        map[string]*Stats
	Outcomes           map[Outcome]int
}

// Stats contains statistics for one operation type or one device
type Stats struct {
	Count   int
	Success int
	Failed  int
	MinRTT  float64
	MaxRTT  float64
	AvgRTT  float64
	SumRTT  float64
}

func (st *Stats) add(m Metric) {
	st.Count++
	if !m.Success {
		st.Failed++
		return
	}
	st.Success++
	if m.RTTMs > 0 {
		if st.MinRTT == 0 || m.RTTMs < st.MinRTT {
			st.MinRTT = m.RTTMs
		}
		if m.RTTMs > st.MaxRTT {
			st.MaxRTT = m.RTTMs
		}
		st.SumRTT += m.RTTMs
		st.AvgRTT = st.SumRTT / float64(st.Success)
	}
}

// NewSink creates a new metrics sink
func NewSink() *Sink {
	return &Sink{
		metrics: make([]Metric, 0),
		summary: newSummary(),
		lastRTT: make(map[string]float64),
	}
}

// Record records a new metric. Missing IDs and timestamps are filled in and
// jitter is derived from the previous successful RTT of the same device.
// A nil sink ignores the metric.
func (s *Sink) Record(m Metric) Metric {
	if s == nil {
		return m
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = NewID()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	if m.Outcome == "" && m.Success {
		m.Outcome = OutcomeOK
	}
	if m.Success && m.RTTMs > 0 && m.JitterMs == 0 {
		if prev, ok := s.lastRTT[m.Device]; ok {
			m.JitterMs = math.Abs(m.RTTMs - prev)
		}
		s.lastRTT[m.Device] = m.RTTMs
	}

	s.metrics = append(s.metrics, m)
	s.updateSummary(m)
	return m
}

// Len returns the number of recorded metrics.
func (s *Sink) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.metrics)
}

// GetMetrics returns a copy of all recorded metrics
func (s *Sink) GetMetrics() []Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()

	metrics := make([]Metric, len(s.metrics))
	copy(metrics, s.metrics)
	return metrics
}

// GetSummary returns the aggregated summary
func (s *Sink) GetSummary() *Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Create a deep copy of the summary
	summary := *s.summary
	summary.RTTBuckets = make(map[string]int)
	summary.RTTByOperation = make(map[OperationType]*Stats, len(s.summary.RTTByOperation))
	summary.RTTByDevice = make(map[string]*Stats, len(s.summary.RTTByDevice))
	summary.Outcomes = make(map[Outcome]int, len(s.summary.Outcomes))

	for op, stats := range s.summary.RTTByOperation {
		st := *stats
		summary.RTTByOperation[op] = &st
	}
	for dev, stats := range s.summary.RTTByDevice {
		st := *stats
		summary.RTTByDevice[dev] = &st
	}
	for k, v := range s.summary.Outcomes {
		summary.Outcomes[k] = v
	}

	percentiles, buckets := summarizeDistribution(s.metrics)
	summary.P50RTT = percentiles[0]
	summary.P90RTT = percentiles[1]
	summary.P95RTT = percentiles[2]
	summary.P99RTT = percentiles[3]
	for k, v := range buckets {
		summary.RTTBuckets[k] = v
	}

	return &summary
}

// updateSummary updates the summary statistics with a new metric
func (s *Sink) updateSummary(m Metric) {
	s.summary.TotalOperations++
	if m.Outcome != "" {
		s.summary.Outcomes[m.Outcome]++
	}

	if m.Success {
		s.summary.SuccessfulOps++
	} else {
		s.summary.FailedOps++
		switch m.Outcome {
		case OutcomeTimeout:
			s.summary.TimeoutCount++
		case OutcomeChecksum:
			s.summary.ChecksumFailures++
		case OutcomeAck:
			s.summary.AckFailures++
		case OutcomeTransport:
			s.summary.ConnectionFailures++
		}
	}

	if m.JitterMs > 0 {
		if m.JitterMs > s.summary.MaxJitter {
			s.summary.MaxJitter = m.JitterMs
		}
		s.summary.jitterCount++
		total := s.summary.AvgJitter * float64(s.summary.jitterCount-1)
		s.summary.AvgJitter = (total + m.JitterMs) / float64(s.summary.jitterCount)
	}

	// Update RTT statistics
	if m.Success && m.RTTMs > 0 {
		if s.summary.MinRTT == 0 || m.RTTMs < s.summary.MinRTT {
			s.summary.MinRTT = m.RTTMs
		}
		if m.RTTMs > s.summary.MaxRTT {
			s.summary.MaxRTT = m.RTTMs
		}
		totalRTT := s.summary.AvgRTT * float64(s.summary.SuccessfulOps-1)
		totalRTT += m.RTTMs
		s.summary.AvgRTT = totalRTT / float64(s.summary.SuccessfulOps)
	}

	opStats, exists := s.summary.RTTByOperation[m.Operation]
	if !exists {
		opStats = &Stats{}
		s.summary.RTTByOperation[m.Operation] = opStats
	}
	opStats.add(m)

	devStats, exists := s.summary.RTTByDevice[m.Device]
	if !exists {
		devStats = &Stats{}
		s.summary.RTTByDevice[m.Device] = devStats
	}
	devStats.add(m)
}

func summarizeDistribution(metrics []Metric) ([4]float64, map[string]int) {
	rtts := make([]float64, 0, len(metrics))
	buckets := make(map[string]int)

	for _, m := range metrics {
		if m.Success && m.RTTMs > 0 {
			rtts = append(rtts, m.RTTMs)
			incrementBucket(buckets, m.RTTMs)
		}
	}

	return computePercentiles(rtts), buckets
}

func incrementBucket(buckets map[string]int, value float64) {
	switch {
	case value < 1:
		buckets["lt_1ms"]++
	case value < 5:
		buckets["1_5ms"]++
	case value < 10:
		buckets["5_10ms"]++
	case value < 50:
		buckets["10_50ms"]++
	case value < 100:
		buckets["50_100ms"]++
	case value < 500:
		buckets["100_500ms"]++
	default:
		buckets["gt_500ms"]++
	}
}

func computePercentiles(values []float64) [4]float64 {
	var result [4]float64
	if len(values) == 0 {
		return result
	}
	sort.Float64s(values)
	result[0] = percentile(values, 0.50)
	result[1] = percentile(values, 0.90)
	result[2] = percentile(values, 0.95)
	result[3] = percentile(values, 0.99)
	return result
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
