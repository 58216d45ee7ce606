package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/neurobile.defaults.json"

// Config is the runtime configuration for a BCI session. Every field is
// optional; the Get* accessors fall back to the documented defaults so a
// partial JSON file is always safe. The sampling rate is deliberately absent:
// it comes from the board descriptor, never from the user.
type Config struct {
	// Acquisition
	SerialPort     *string  `json:"serial_port,omitempty"`
	BaudRate       *int     `json:"baud_rate,omitempty"`
	UpdateInterval *string  `json:"update_interval,omitempty"` // plot-driven tick, e.g. "100ms"
	PollInterval   *string  `json:"poll_interval,omitempty"`   // consuming-read tick, e.g. "1.1s"
	WindowSeconds  *float64 `json:"window_seconds,omitempty"`
	TrimSamples    *int     `json:"trim_samples,omitempty"`

	// Cue/capture
	CueInterval     *string `json:"cue_interval,omitempty"`
	CaptureDuration *string `json:"capture_duration,omitempty"`

	// Filter pipeline
	Detrend         *string  `json:"detrend,omitempty"` // "constant" or "linear"
	BandpassLow     *float64 `json:"bandpass_low,omitempty"`
	BandpassHigh    *float64 `json:"bandpass_high,omitempty"`
	FilterOrder     *int     `json:"filter_order,omitempty"`
	BandstopEnabled *bool    `json:"bandstop_enabled,omitempty"`
	BandstopLow     *float64 `json:"bandstop_low,omitempty"`
	BandstopHigh    *float64 `json:"bandstop_high,omitempty"`
	TargetRate      *float64 `json:"target_rate,omitempty"`
	NormalizePeak   *float64 `json:"normalize_peak,omitempty"` // volts

	// Alpha/beta gating
	AlphaLow         *float64 `json:"alpha_low,omitempty"`
	AlphaHigh        *float64 `json:"alpha_high,omitempty"`
	BetaLow          *float64 `json:"beta_low,omitempty"`
	BetaHigh         *float64 `json:"beta_high,omitempty"`
	GateBandpassLow  *float64 `json:"gate_bandpass_low,omitempty"`
	GateBandpassHigh *float64 `json:"gate_bandpass_high,omitempty"`
	GateRatioMin     *float64 `json:"gate_ratio_min,omitempty"`
	GateRatioMax     *float64 `json:"gate_ratio_max,omitempty"`
	BeepRatio        *float64 `json:"beep_ratio,omitempty"`

	// Classifier
	CheckpointPath *string `json:"checkpoint_path,omitempty"`

	// Actuator
	CarName           *string `json:"car_name,omitempty"`
	CarCharacteristic *string `json:"car_characteristic,omitempty"`
	DiscoveryTimeout  *string `json:"discovery_timeout,omitempty"`
	ActuatorInterval  *string `json:"actuator_interval,omitempty"`

	// Telemetry and storage
	DBPath       *string  `json:"db_path,omitempty"`
	MQTTBroker   *string  `json:"mqtt_broker,omitempty"`
	MQTTTopic    *string  `json:"mqtt_topic,omitempty"`
	KafkaBrokers []string `json:"kafka_brokers,omitempty"`
	KafkaTopic   *string  `json:"kafka_topic,omitempty"`
	PlotDir      *string  `json:"plot_dir,omitempty"`
	PlotInterval *string  `json:"plot_interval,omitempty"`
}

// CarCharacteristicUUID is the GATT characteristic the RC car firmware
// listens on for single-byte commands.
const CarCharacteristicUUID = "19b10000-e8f2-537e-4f6c-d104768a1214"

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// Empty returns a Config with all fields unset.
func Empty() *Config {
	return &Config{}
}

// Defaults returns a Config with every field populated with its default.
func Defaults() *Config {
	c := Empty()
	return &Config{
		SerialPort:        ptrString(c.GetSerialPort()),
		BaudRate:          ptrInt(c.GetBaudRate()),
		UpdateInterval:    ptrString(c.GetUpdateInterval().String()),
		PollInterval:      ptrString(c.GetPollInterval().String()),
		WindowSeconds:     ptrFloat64(c.GetWindowSeconds()),
		TrimSamples:       ptrInt(c.GetTrimSamples()),
		CueInterval:       ptrString(c.GetCueInterval().String()),
		CaptureDuration:   ptrString(c.GetCaptureDuration().String()),
		Detrend:           ptrString(c.GetDetrend()),
		BandpassLow:       ptrFloat64(c.GetBandpassLow()),
		BandpassHigh:      ptrFloat64(c.GetBandpassHigh()),
		FilterOrder:       ptrInt(c.GetFilterOrder()),
		BandstopEnabled:   ptrBool(c.GetBandstopEnabled()),
		BandstopLow:       ptrFloat64(c.GetBandstopLow()),
		BandstopHigh:      ptrFloat64(c.GetBandstopHigh()),
		TargetRate:        ptrFloat64(c.GetTargetRate()),
		NormalizePeak:     ptrFloat64(c.GetNormalizePeak()),
		AlphaLow:          ptrFloat64(c.GetAlphaLow()),
		AlphaHigh:         ptrFloat64(c.GetAlphaHigh()),
		BetaLow:           ptrFloat64(c.GetBetaLow()),
		BetaHigh:          ptrFloat64(c.GetBetaHigh()),
		GateBandpassLow:   ptrFloat64(c.GetGateBandpassLow()),
		GateBandpassHigh:  ptrFloat64(c.GetGateBandpassHigh()),
		GateRatioMin:      ptrFloat64(c.GetGateRatioMin()),
		GateRatioMax:      ptrFloat64(c.GetGateRatioMax()),
		BeepRatio:         ptrFloat64(c.GetBeepRatio()),
		CheckpointPath:    ptrString(c.GetCheckpointPath()),
		CarName:           ptrString(c.GetCarName()),
		CarCharacteristic: ptrString(c.GetCarCharacteristic()),
		DiscoveryTimeout:  ptrString(c.GetDiscoveryTimeout().String()),
		ActuatorInterval:  ptrString(c.GetActuatorInterval().String()),
		DBPath:            ptrString(c.GetDBPath()),
		MQTTBroker:        ptrString(""),
		MQTTTopic:         ptrString(c.GetMQTTTopic()),
		KafkaTopic:        ptrString(c.GetKafkaTopic()),
		PlotDir:           ptrString(""),
		PlotInterval:      ptrString(c.GetPlotInterval().String()),
	}
}

// Load loads a Config from a JSON file.
// The file must have a .json extension and be under 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the values that can be checked without knowing the board's
// sampling rate. Cutoffs are checked against Nyquist when the filter pipeline
// is constructed.
func (c *Config) Validate() error {
	durations := map[string]*string{
		"update_interval":   c.UpdateInterval,
		"poll_interval":     c.PollInterval,
		"cue_interval":      c.CueInterval,
		"capture_duration":  c.CaptureDuration,
		"discovery_timeout": c.DiscoveryTimeout,
		"actuator_interval": c.ActuatorInterval,
		"plot_interval":     c.PlotInterval,
	}
	for name, v := range durations {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, *v)
		}
	}

	if c.WindowSeconds != nil && *c.WindowSeconds <= 0 {
		return fmt.Errorf("window_seconds must be positive, got %f", *c.WindowSeconds)
	}
	if c.TrimSamples != nil && *c.TrimSamples < 0 {
		return fmt.Errorf("trim_samples must be non-negative, got %d", *c.TrimSamples)
	}
	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}
	if c.FilterOrder != nil && (*c.FilterOrder < 1 || *c.FilterOrder > 8) {
		return fmt.Errorf("filter_order must be between 1 and 8, got %d", *c.FilterOrder)
	}
	if c.Detrend != nil {
		switch strings.ToLower(*c.Detrend) {
		case "", "constant", "linear", "none":
		default:
			return fmt.Errorf("unsupported detrend %q: expected constant, linear or none", *c.Detrend)
		}
	}
	if c.TargetRate != nil && *c.TargetRate <= 0 {
		return fmt.Errorf("target_rate must be positive, got %f", *c.TargetRate)
	}
	if c.NormalizePeak != nil && *c.NormalizePeak <= 0 {
		return fmt.Errorf("normalize_peak must be positive, got %g", *c.NormalizePeak)
	}

	bands := []struct {
		name   string
		lo, hi float64
	}{
		{"bandpass", c.GetBandpassLow(), c.GetBandpassHigh()},
		{"bandstop", c.GetBandstopLow(), c.GetBandstopHigh()},
		{"alpha", c.GetAlphaLow(), c.GetAlphaHigh()},
		{"beta", c.GetBetaLow(), c.GetBetaHigh()},
		{"gate_bandpass", c.GetGateBandpassLow(), c.GetGateBandpassHigh()},
	}
	for _, b := range bands {
		if b.lo <= 0 || b.hi <= b.lo {
			return fmt.Errorf("%s band must satisfy 0 < low < high, got [%g, %g]", b.name, b.lo, b.hi)
		}
	}
	if c.GetGateRatioMin() >= c.GetGateRatioMax() {
		return fmt.Errorf("gate_ratio_min (%g) must be below gate_ratio_max (%g)", c.GetGateRatioMin(), c.GetGateRatioMax())
	}
	return nil
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetSerialPort returns the Cyton dongle device path.
func (c *Config) GetSerialPort() string {
	if c.SerialPort == nil || *c.SerialPort == "" {
		return "/dev/ttyUSB0"
	}
	return *c.SerialPort
}

// GetBaudRate returns the serial baud rate (Cyton dongles run at 115200).
func (c *Config) GetBaudRate() int {
	if c.BaudRate == nil {
		return 115200
	}
	return *c.BaudRate
}

// GetUpdateInterval returns the plot-driven acquisition tick period.
func (c *Config) GetUpdateInterval() time.Duration {
	return parseDurationOr(c.UpdateInterval, 100*time.Millisecond)
}

// GetPollInterval returns the consuming-read acquisition tick period.
func (c *Config) GetPollInterval() time.Duration {
	return parseDurationOr(c.PollInterval, 1100*time.Millisecond)
}

// GetWindowSeconds returns the classification window length in seconds.
func (c *Config) GetWindowSeconds() float64 {
	if c.WindowSeconds == nil {
		return 3
	}
	return *c.WindowSeconds
}

// GetTrimSamples returns the number of raw samples dropped from each end of a pull.
func (c *Config) GetTrimSamples() int {
	if c.TrimSamples == nil {
		return 50
	}
	return *c.TrimSamples
}

// GetCueInterval returns the time between cues.
func (c *Config) GetCueInterval() time.Duration {
	return parseDurationOr(c.CueInterval, 10*time.Second)
}

// GetCaptureDuration returns the post-cue capture window.
func (c *Config) GetCaptureDuration() time.Duration {
	return parseDurationOr(c.CaptureDuration, 3*time.Second)
}

// GetDetrend returns the detrend mode.
func (c *Config) GetDetrend() string {
	if c.Detrend == nil || *c.Detrend == "" {
		return "constant"
	}
	return strings.ToLower(*c.Detrend)
}

func (c *Config) GetBandpassLow() float64 {
	if c.BandpassLow == nil {
		return 4
	}
	return *c.BandpassLow
}

func (c *Config) GetBandpassHigh() float64 {
	if c.BandpassHigh == nil {
		return 50
	}
	return *c.BandpassHigh
}

func (c *Config) GetFilterOrder() int {
	if c.FilterOrder == nil {
		return 4
	}
	return *c.FilterOrder
}

func (c *Config) GetBandstopEnabled() bool {
	if c.BandstopEnabled == nil {
		return true
	}
	return *c.BandstopEnabled
}

func (c *Config) GetBandstopLow() float64 {
	if c.BandstopLow == nil {
		return 58
	}
	return *c.BandstopLow
}

func (c *Config) GetBandstopHigh() float64 {
	if c.BandstopHigh == nil {
		return 62
	}
	return *c.BandstopHigh
}

// GetTargetRate returns the canonical resample rate in Hz.
func (c *Config) GetTargetRate() float64 {
	if c.TargetRate == nil {
		return 128
	}
	return *c.TargetRate
}

// GetNormalizePeak returns the peak amplitude, in volts, windows are scaled to.
func (c *Config) GetNormalizePeak() float64 {
	if c.NormalizePeak == nil {
		return 75e-6
	}
	return *c.NormalizePeak
}

func (c *Config) GetAlphaLow() float64 {
	if c.AlphaLow == nil {
		return 7
	}
	return *c.AlphaLow
}

func (c *Config) GetAlphaHigh() float64 {
	if c.AlphaHigh == nil {
		return 13
	}
	return *c.AlphaHigh
}

func (c *Config) GetBetaLow() float64 {
	if c.BetaLow == nil {
		return 14
	}
	return *c.BetaLow
}

func (c *Config) GetBetaHigh() float64 {
	if c.BetaHigh == nil {
		return 30
	}
	return *c.BetaHigh
}

func (c *Config) GetGateBandpassLow() float64 {
	if c.GateBandpassLow == nil {
		return 2
	}
	return *c.GateBandpassLow
}

func (c *Config) GetGateBandpassHigh() float64 {
	if c.GateBandpassHigh == nil {
		return 40
	}
	return *c.GateBandpassHigh
}

// GetGateRatioMin returns the exclusive lower alpha/beta bound for driving forward.
func (c *Config) GetGateRatioMin() float64 {
	if c.GateRatioMin == nil {
		return 5
	}
	return *c.GateRatioMin
}

// GetGateRatioMax returns the exclusive upper alpha/beta bound; ratios above it
// are treated as artefacts.
func (c *Config) GetGateRatioMax() float64 {
	if c.GateRatioMax == nil {
		return 15
	}
	return *c.GateRatioMax
}

// GetBeepRatio returns the alpha/beta ratio above which beep mode sounds.
func (c *Config) GetBeepRatio() float64 {
	if c.BeepRatio == nil {
		return 5
	}
	return *c.BeepRatio
}

func (c *Config) GetCheckpointPath() string {
	if c.CheckpointPath == nil || *c.CheckpointPath == "" {
		return "data/checkpoint.json"
	}
	return *c.CheckpointPath
}

// GetCarName returns the BLE local name advertised by the car.
func (c *Config) GetCarName() string {
	if c.CarName == nil || *c.CarName == "" {
		return "RC Car"
	}
	return *c.CarName
}

func (c *Config) GetCarCharacteristic() string {
	if c.CarCharacteristic == nil || *c.CarCharacteristic == "" {
		return CarCharacteristicUUID
	}
	return *c.CarCharacteristic
}

func (c *Config) GetDiscoveryTimeout() time.Duration {
	return parseDurationOr(c.DiscoveryTimeout, 5*time.Second)
}

func (c *Config) GetActuatorInterval() time.Duration {
	return parseDurationOr(c.ActuatorInterval, 300*time.Millisecond)
}

func (c *Config) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "neurobile.db"
	}
	return *c.DBPath
}

// GetMQTTBroker returns the broker URL; empty disables MQTT telemetry.
func (c *Config) GetMQTTBroker() string {
	if c.MQTTBroker == nil {
		return ""
	}
	return *c.MQTTBroker
}

func (c *Config) GetMQTTTopic() string {
	if c.MQTTTopic == nil || *c.MQTTTopic == "" {
		return "neurobile/decisions"
	}
	return *c.MQTTTopic
}

func (c *Config) GetKafkaTopic() string {
	if c.KafkaTopic == nil || *c.KafkaTopic == "" {
		return "neurobile.decisions"
	}
	return *c.KafkaTopic
}

// GetPlotDir returns the directory for periodic PNG snapshots; empty disables them.
func (c *Config) GetPlotDir() string {
	if c.PlotDir == nil {
		return ""
	}
	return *c.PlotDir
}

func (c *Config) GetPlotInterval() time.Duration {
	return parseDurationOr(c.PlotInterval, time.Second)
}

// WindowSamples returns the number of raw samples in one classification
// window at the given sampling rate, before trimming.
func (c *Config) WindowSamples(samplingRate int) int {
	return int(c.GetWindowSeconds() * float64(samplingRate))
}

// LoadDefault loads DefaultConfigPath, searching up to three parent
// directories so tests and tools run from subdirectories find it.
func LoadDefault() (*Config, error) {
	candidates := []string{
		DefaultConfigPath,
		filepath.Join("..", DefaultConfigPath),
		filepath.Join("..", "..", DefaultConfigPath),
		filepath.Join("..", "..", "..", DefaultConfigPath),
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return Load(p)
		}
	}
	return nil, fmt.Errorf("default config %s not found", DefaultConfigPath)
}
