package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Simple Prometheus-style metrics for the dashboard and the job system.
// This is intentionally minimal and in-memory only.

var (
	mu             sync.RWMutex
	requestsTotal  = make(map[reqKey]int64)
	latencyMsSum   = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)

	taskOutcomes     = make(map[taskKey]int64)
	pollAttempts     = make(map[string]int64)
	retryAttempts    = make(map[string]int64)
	jobExecutions    = make(map[jobKey]int64)
	tasksAdopted     = make(map[string]int64)
	fanoutPublishes  = make(map[string]int64)
	retentionDeleted = make(map[string]int64)
)

type reqKey struct {
	Method string
	Path   string
	Status int
}

type latKey struct {
	Method string
	Path   string
}

type taskKey struct {
	Type    string
	Outcome string
}

type jobKey struct {
	Type   string
	Status string
}

// RecordRequest increments request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	mu.Lock()
	defer mu.Unlock()

	rk := reqKey{Method: method, Path: path, Status: status}
	requestsTotal[rk]++

	lk := latKey{Method: method, Path: path}
	latencyMsSum[lk] += latencyMs
	latencyMsCount[lk]++
}

// RecordTaskOutcome counts orchestrations by task type and outcome
// (submitted, success, failure, timeout, submit_error,
// contract_error).
func RecordTaskOutcome(taskType, outcome string) {
	if taskType == "" {
		taskType = "unknown"
	}
	mu.Lock()
	defer mu.Unlock()
	taskOutcomes[taskKey{Type: taskType, Outcome: outcome}]++
}

// RecordPollAttempt counts status requests issued by poll loops.
func RecordPollAttempt(taskType string) {
	if taskType == "" {
		taskType = "unknown"
	}
	mu.Lock()
	defer mu.Unlock()
	pollAttempts[taskType]++
}

// RecordRetry counts retries scheduled by the resilient read wrapper,
// keyed by the operation name.
func RecordRetry(op string) {
	if op == "" {
		op = "unknown"
	}
	mu.Lock()
	defer mu.Unlock()
	retryAttempts[op]++
}

// RecordJobExecution counts jobs finished by the worker runner.
func RecordJobExecution(jobType, status string) {
	mu.Lock()
	defer mu.Unlock()
	jobExecutions[jobKey{Type: jobType, Status: status}]++
}

// RecordAdopted counts pending tasks resolved by the adopter sweep.
func RecordAdopted(status string) {
	mu.Lock()
	defer mu.Unlock()
	tasksAdopted[status]++
}

// RecordFanout counts snapshot publications by result (ok, error).
func RecordFanout(result string) {
	mu.Lock()
	defer mu.Unlock()
	fanoutPublishes[result]++
}

// RecordRetentionJobs increments the counter of jobs deleted by TTL for
// a given job type.
func RecordRetentionJobs(jobType string, deleted int64) {
	if deleted <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	retentionDeleted[jobType] += deleted
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP taskhub_http_requests_total Total HTTP requests\n")
	b.WriteString("# TYPE taskhub_http_requests_total counter\n")

	// Sort keys for stable output
	var reqKeys []reqKey
	for k := range requestsTotal {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].Method != reqKeys[j].Method {
			return reqKeys[i].Method < reqKeys[j].Method
		}
		if reqKeys[i].Path != reqKeys[j].Path {
			return reqKeys[i].Path < reqKeys[j].Path
		}
		return reqKeys[i].Status < reqKeys[j].Status
	})

	for _, k := range reqKeys {
		fmt.Fprintf(&b, "taskhub_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, requestsTotal[k])
	}

	b.WriteString("# HELP taskhub_http_request_duration_ms_sum Total request duration in milliseconds\n")
	b.WriteString("# TYPE taskhub_http_request_duration_ms_sum counter\n")
	b.WriteString("# HELP taskhub_http_request_duration_ms_count Request count for latency metric\n")
	b.WriteString("# TYPE taskhub_http_request_duration_ms_count counter\n")

	var latKeys []latKey
	for k := range latencyMsSum {
		latKeys = append(latKeys, k)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].Method != latKeys[j].Method {
			return latKeys[i].Method < latKeys[j].Method
		}
		return latKeys[i].Path < latKeys[j].Path
	})

	for _, k := range latKeys {
		fmt.Fprintf(&b, "taskhub_http_request_duration_ms_sum{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsSum[k])
		fmt.Fprintf(&b, "taskhub_http_request_duration_ms_count{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsCount[k])
	}

	b.WriteString("# HELP taskhub_task_outcomes_total Orchestrated tasks by type and outcome\n")
	b.WriteString("# TYPE taskhub_task_outcomes_total counter\n")

	var outcomeKeys []taskKey
	for k := range taskOutcomes {
		outcomeKeys = append(outcomeKeys, k)
	}
	sort.Slice(outcomeKeys, func(i, j int) bool {
		if outcomeKeys[i].Type != outcomeKeys[j].Type {
			return outcomeKeys[i].Type < outcomeKeys[j].Type
		}
		return outcomeKeys[i].Outcome < outcomeKeys[j].Outcome
	})
	for _, k := range outcomeKeys {
		fmt.Fprintf(&b, "taskhub_task_outcomes_total{type=\"%s\",outcome=\"%s\"} %d\n",
			k.Type, k.Outcome, taskOutcomes[k])
	}

	writeLabeled(&b, "taskhub_poll_attempts_total", "Status requests issued by poll loops", "type", pollAttempts)
	writeLabeled(&b, "taskhub_retries_total", "Retries scheduled by the resilient read wrapper", "op", retryAttempts)

	b.WriteString("# HELP taskhub_job_executions_total Jobs finished by the worker runner\n")
	b.WriteString("# TYPE taskhub_job_executions_total counter\n")

	var jobKeys []jobKey
	for k := range jobExecutions {
		jobKeys = append(jobKeys, k)
	}
	sort.Slice(jobKeys, func(i, j int) bool {
		if jobKeys[i].Type != jobKeys[j].Type {
			return jobKeys[i].Type < jobKeys[j].Type
		}
		return jobKeys[i].Status < jobKeys[j].Status
	})
	for _, k := range jobKeys {
		fmt.Fprintf(&b, "taskhub_job_executions_total{job_type=\"%s\",status=\"%s\"} %d\n",
			k.Type, k.Status, jobExecutions[k])
	}

	writeLabeled(&b, "taskhub_tasks_adopted_total", "Pending tasks resolved by the adopter sweep", "status", tasksAdopted)
	writeLabeled(&b, "taskhub_fanout_publishes_total", "Registry snapshots published to redis", "result", fanoutPublishes)
	writeLabeled(&b, "taskhub_retention_jobs_deleted_total", "Total jobs deleted by TTL", "job_type", retentionDeleted)

	return b.String()
}

func writeLabeled(b *strings.Builder, name, help, label string, values map[string]int64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s counter\n", name)

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "%s{%s=\"%s\"} %d\n", name, label, k, values[k])
	}
}
