package common

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/benchforge/bmdriver/internal/common/health"
)

const baseConfigFileName = "config"

// LoadConfig reads the defaults found in defaultPath, merges every file in overrideConfigs on top and finally
// environment variables prefixed with envPrefix, then decodes the result into config.
func LoadConfig(config interface{}, defaultPath string, overrideConfigs []string, envPrefix string, opts ...viper.DecoderConfigOption) (*viper.Viper, error) {
	v := viper.New()

	v.SetConfigName(baseConfigFileName)
	v.AddConfigPath(defaultPath)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrapf(err, "reading default config from %s", defaultPath)
		}
		log.Warnf("No default config found in %s", defaultPath)
	} else {
		log.Infof("Read base config from %s", v.ConfigFileUsed())
	}

	for _, overrideConfig := range overrideConfigs {
		v.SetConfigFile(overrideConfig)
		if err := v.MergeInConfig(); err != nil {
			return nil, errors.Wrapf(err, "merging config from %s", overrideConfig)
		}
		log.Infof("Read config from %s", v.ConfigFileUsed())
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := v.Unmarshal(config, opts...); err != nil {
		return nil, errors.WithStack(err)
	}
	return v, nil
}

// ServeMetrics exposes Prometheus metrics on /metrics and the result of checker on /health.
// The returned function shuts the server down.
func ServeMetrics(port uint16, checker health.Checker) (shutdown func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	health.SetupHttpMux(mux, checker)
	return serveHttp(port, mux)
}

func serveHttp(port uint16, mux http.Handler) (shutdown func()) {
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		log.Infof("Starting http server listening on %d", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server stopped unexpectedly")
		}
	}()

	return func() {
		log.Infof("Stopping http server listening on %d", port)
		if err := srv.Close(); err != nil {
			log.WithError(err).Warn("failed to close http server")
		}
	}
}
