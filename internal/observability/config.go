package observability

import (
	"strings"

	"github.com/smallbiznis/creditledger/internal/config"
)

// Config is the resolved observability view of the application config.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	tel := cfg.Telemetry

	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "creditledger"
	}
	environment := firstNonEmpty(tel.DeploymentEnv, cfg.Environment)
	version := firstNonEmpty(tel.ServiceVersion, cfg.AppVersion)

	logLevel := tel.LogLevel
	if logLevel == "" {
		logLevel = "info"
	}
	logFormat := tel.LogFormat
	if logFormat == "" {
		logFormat = "json"
	}
	protocol := tel.OtlpProtocol
	if protocol == "" {
		protocol = "grpc"
	}
	ratio := tel.SamplingRatio
	if ratio < 0 || ratio > 1 {
		ratio = 0.1
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          environment,
		Version:              version,
		LogLevel:             logLevel,
		LogFormat:            logFormat,
		OtelEnabled:          tel.OtelEnabled,
		OtelExporterEndpoint: tel.OtlpEndpoint,
		OtelExporterProtocol: protocol,
		OtelSamplingRatio:    ratio,
	}
}

// Debug turns on verbose request logging for debug level or dev environments.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
