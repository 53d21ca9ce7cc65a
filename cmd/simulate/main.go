package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-opd/internal/logging"
)

// SimConfig drives an end-to-end OPD load run against a live api-server.
type SimConfig struct {
	APIBaseURL     string
	Duration       time.Duration
	Workers        int
	Patients       int
	SettleRacers   int // concurrent settlement attempts per completed visit
	DispenseRatio  float64
	Password       string
	AppointmentDay string
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err == nil && status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case err == nil && status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[min2(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min2(len(latencies)*95/100, len(latencies)-1)]
	return avg, min, max, p50, p95
}

type Metrics struct {
	Book     OperationMetrics
	CheckIn  OperationMetrics
	Finalize OperationMetrics
	Settle   OperationMetrics
	Dispense OperationMetrics
	Snapshot OperationMetrics
}

// Clinic holds the tokens and ids created during setup.
type Clinic struct {
	TenantID  string
	Admin     string
	Doctor    string
	DoctorID  string
	Reception string
	Pharmacy  string
	Patients  []string
}

type Simulator struct {
	config  SimConfig
	clinic  Clinic
	client  *http.Client
	logger  zerolog.Logger
	metrics Metrics

	slot     atomic.Int64
	billed   atomic.Int64
	visits   atomic.Int64
	overpaid atomic.Int64
}

func main() {
	logger := logging.New(getEnv("APP_ENV", "dev"), getEnv("LOG_LEVEL", "info")).With().Str("service", "simulate").Logger()

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Int("settle_racers", cfg.SettleRacers).
		Msg("simulator starting")

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sim.Setup(ctx); err != nil {
		logger.Fatal().Err(err).Msg("setup failed")
	}
	logger.Info().Str("tenant_id", sim.clinic.TenantID).Int("patients", len(sim.clinic.Patients)).Msg("clinic ready")

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	return SimConfig{
		APIBaseURL:     strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:       getDuration("SIM_DURATION", 30*time.Second),
		Workers:        getInt("SIM_WORKERS", 10),
		Patients:       getInt("SIM_PATIENTS", 50),
		SettleRacers:   getInt("SIM_SETTLE_RACERS", 3),
		DispenseRatio:  getFloat("SIM_DISPENSE_RATIO", 0.8),
		Password:       getEnv("SIM_PASSWORD", "password123"),
		AppointmentDay: getEnv("SIM_DATE", time.Now().Format("2006-01-02")),
	}
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Patients <= 0 {
		return fmt.Errorf("SIM_PATIENTS must be > 0")
	}
	if cfg.SettleRacers <= 0 {
		return fmt.Errorf("SIM_SETTLE_RACERS must be > 0")
	}
	return nil
}

// Setup signs up a fresh clinic, staffs it and registers patients.
func (s *Simulator) Setup(ctx context.Context) error {
	domain := "sim-" + uuid.NewString()[:8] + ".test"
	adminEmail := "admin@" + domain

	if _, err := s.call(ctx, http.MethodPost, "/signup", "", map[string]any{
		"clinicName": "Simulated Clinic " + domain,
		"adminName":  gofakeit.Name(),
		"email":      adminEmail,
		"password":   s.config.Password,
	}, nil, http.StatusCreated); err != nil {
		return fmt.Errorf("signup: %w", err)
	}

	var err error
	if s.clinic.Admin, s.clinic.TenantID, err = s.login(ctx, adminEmail); err != nil {
		return err
	}

	staff := []struct {
		role  string
		email string
		token *string
	}{
		{"Doctor", "doctor@" + domain, &s.clinic.Doctor},
		{"Receptionist", "desk@" + domain, &s.clinic.Reception},
		{"Pharmacist", "rx@" + domain, &s.clinic.Pharmacy},
	}
	for _, st := range staff {
		var created struct {
			ID string `json:"id"`
		}
		if _, err := s.call(ctx, http.MethodPost, "/staff", s.clinic.Admin, map[string]any{
			"name":     gofakeit.Name(),
			"email":    st.email,
			"password": s.config.Password,
			"role":     st.role,
		}, &created, http.StatusCreated); err != nil {
			return fmt.Errorf("add %s: %w", st.role, err)
		}
		if st.role == "Doctor" {
			s.clinic.DoctorID = created.ID
		}
		if *st.token, _, err = s.login(ctx, st.email); err != nil {
			return err
		}
	}

	for i := 0; i < s.config.Patients; i++ {
		var p struct {
			ID string `json:"id"`
		}
		if _, err := s.call(ctx, http.MethodPost, "/patients", s.clinic.Reception, map[string]any{
			"firstName": gofakeit.FirstName(),
			"lastName":  gofakeit.LastName(),
			"phone":     gofakeit.Phone(),
		}, &p, http.StatusCreated); err != nil {
			return fmt.Errorf("add patient: %w", err)
		}
		s.clinic.Patients = append(s.clinic.Patients, p.ID)
	}
	return nil
}

func (s *Simulator) login(ctx context.Context, email string) (token, tenantID string, err error) {
	var resp struct {
		Token   string `json:"token"`
		Session struct {
			TenantID string `json:"tenantId"`
		} `json:"session"`
	}
	if _, err := s.call(ctx, http.MethodPost, "/auth/login", "", map[string]any{
		"email":    email,
		"password": s.config.Password,
	}, &resp, http.StatusOK); err != nil {
		return "", "", fmt.Errorf("login %s: %w", email, err)
	}
	return resp.Token, resp.Session.TenantID, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		s.visit(ctx, rng)
		if rng.Intn(10) == 0 {
			s.timed(ctx, &s.metrics.Snapshot, http.MethodGet, "/snapshot", s.clinic.Reception, nil, nil)
		}
	}
}

// visit runs one patient through booking, triage, consultation, billing
// and the pharmacy counter.
func (s *Simulator) visit(ctx context.Context, rng *rand.Rand) {
	n := s.slot.Add(1)
	slot := time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(n%(24*60)) * time.Minute)

	var appt struct {
		ID string `json:"id"`
	}
	if !s.timed(ctx, &s.metrics.Book, http.MethodPost, "/appointments", s.clinic.Reception, map[string]any{
		"patientId": s.clinic.Patients[rng.Intn(len(s.clinic.Patients))],
		"doctorId":  s.clinic.DoctorID,
		"date":      s.config.AppointmentDay,
		"time":      slot.Format("15:04"),
		"reason":    "Fever",
	}, &appt) {
		return
	}

	if !s.timed(ctx, &s.metrics.CheckIn, http.MethodPost, "/appointments/"+appt.ID+"/check-in", s.clinic.Reception, map[string]any{
		"vitals":          map[string]string{"bp": "120/80", "temp": strconv.FormatFloat(97+rng.Float64()*5, 'f', 1, 64)},
		"initialSymptoms": "Fever, body ache",
	}, nil) {
		return
	}

	var consult struct {
		Prescription struct {
			ID string `json:"id"`
		} `json:"prescription"`
	}
	if !s.timed(ctx, &s.metrics.Finalize, http.MethodPost, "/appointments/"+appt.ID+"/finalize", s.clinic.Doctor, map[string]any{
		"diagnosis": "Flu",
		"medicines": []map[string]any{{
			"name": "Paracetamol", "morning": true, "night": true, "duration": "5 Days", "instructions": "After Food",
		}},
	}, &consult) {
		return
	}
	s.visits.Add(1)

	// Several desks settle the same visit at once; exactly one may win.
	var wins atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < s.config.SettleRacers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.timed(ctx, &s.metrics.Settle, http.MethodPost, "/bills", s.clinic.Reception, map[string]any{
				"appointmentId": appt.ID,
				"paymentMethod": "Cash",
			}, nil) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if w := wins.Load(); w > 0 {
		s.billed.Add(1)
		if w > 1 {
			s.overpaid.Add(w - 1)
		}
	}

	if rng.Float64() < s.config.DispenseRatio {
		s.timed(ctx, &s.metrics.Dispense, http.MethodPost, "/prescriptions/"+consult.Prescription.ID+"/dispense", s.clinic.Pharmacy, nil, nil)
	}
}

func (s *Simulator) timed(ctx context.Context, om *OperationMetrics, method, path, token string, body, out any) bool {
	start := time.Now()
	status, err := s.call(ctx, method, path, token, body, out, 0)
	if ctx.Err() != nil {
		return false
	}
	om.Record(time.Since(start), status, err)
	return err == nil && status >= 200 && status < 300
}

// call sends a JSON request. When want is non-zero any other status is an error.
func (s *Simulator) call(ctx context.Context, method, path, token string, body, out any, want int) (int, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, r)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if want != 0 && resp.StatusCode != want {
		return resp.StatusCode, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil && resp.StatusCode < 300 && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Completed visits: %d\n", s.visits.Load())
	fmt.Printf("Billed visits: %d\n", s.billed.Load())
	fmt.Printf("Duplicate bills: %d\n", s.overpaid.Load())
	fmt.Println()

	printOperationReport("Book", &s.metrics.Book)
	printOperationReport("Check-in", &s.metrics.CheckIn)
	printOperationReport("Finalize", &s.metrics.Finalize)
	printOperationReport("Settle", &s.metrics.Settle)
	printOperationReport("Dispense", &s.metrics.Dispense)
	printOperationReport("Snapshot", &s.metrics.Snapshot)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func repeat(s string, n int) string {
	return strings.Repeat(s, n)
}
