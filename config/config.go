/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package config loads and validates the engine-wide configuration
// surface of spec §6.3: everything a caller may set before the engine
// starts dialing. Grounded on the teacher's component config style
// (database/gorm.Config, certificates.Config): a plain struct with
// json/yaml/toml/mapstructure tags, populated by spf13/viper (file +
// env + defaults) and validated with go-playground/validator/v10.
package config

import (
	"fmt"
	"strings"
	"time"

	libval "github.com/go-playground/validator/v10"
	spfvpr "github.com/spf13/viper"

	liberr "github.com/realm-sync/core/errors"
	"github.com/realm-sync/core/reconnect"
	"github.com/realm-sync/core/session"
)

// MetadataMode governs whether the user/action metadata file is
// persisted and whether it is encrypted at rest (spec §6.3
// metadata_mode).
type MetadataMode uint8

const (
	MetadataNone MetadataMode = iota
	MetadataPlain
	MetadataEncrypted
)

func metadataModeFromString(s string) MetadataMode {
	switch strings.ToLower(s) {
	case "plain":
		return MetadataPlain
	case "encrypted":
		return MetadataEncrypted
	default:
		return MetadataNone
	}
}

// ProxyConfig is the minimal proxy plumbing spec §6.3 proxy_config
// names; the transport-level dial itself is connection's concern.
type ProxyConfig struct {
	URL      string `json:"url" yaml:"url" toml:"url" mapstructure:"url"`
	Username string `json:"username" yaml:"username" toml:"username" mapstructure:"username"`
	Password string `json:"password" yaml:"password" toml:"password" mapstructure:"password"`
}

// EngineConfig is every option a caller may set (spec §6.3), loaded
// via Load and handed piecewise to connection.Config/session.Config at
// construction.
type EngineConfig struct {
	BaseFilePath string `validate:"required" json:"base-file-path" yaml:"base-file-path" toml:"base-file-path" mapstructure:"base-file-path"`

	MetadataModeRaw string `json:"metadata-mode" yaml:"metadata-mode" toml:"metadata-mode" mapstructure:"metadata-mode"`

	ReconnectModeRaw string `json:"reconnect-mode" yaml:"reconnect-mode" toml:"reconnect-mode" mapstructure:"reconnect-mode"`

	MultiplexSessions bool `json:"multiplex-sessions" yaml:"multiplex-sessions" toml:"multiplex-sessions" mapstructure:"multiplex-sessions"`

	ConnectTimeout       time.Duration `validate:"gte=0" json:"connect-timeout" yaml:"connect-timeout" toml:"connect-timeout" mapstructure:"connect-timeout"`
	ConnectionLingerTime time.Duration `validate:"gte=0" json:"connection-linger-time" yaml:"connection-linger-time" toml:"connection-linger-time" mapstructure:"connection-linger-time"`
	PingKeepAlivePeriod  time.Duration `validate:"gte=0" json:"ping-keepalive-period" yaml:"ping-keepalive-period" toml:"ping-keepalive-period" mapstructure:"ping-keepalive-period"`
	PongKeepAliveTimeout time.Duration `validate:"gte=0" json:"pong-keepalive-timeout" yaml:"pong-keepalive-timeout" toml:"pong-keepalive-timeout" mapstructure:"pong-keepalive-timeout"`
	FastReconnectLimit   time.Duration `validate:"gte=0" json:"fast-reconnect-limit" yaml:"fast-reconnect-limit" toml:"fast-reconnect-limit" mapstructure:"fast-reconnect-limit"`

	StopPolicyRaw       string `json:"stop-policy" yaml:"stop-policy" toml:"stop-policy" mapstructure:"stop-policy"`
	ClientResyncModeRaw string `json:"client-resync-mode" yaml:"client-resync-mode" toml:"client-resync-mode" mapstructure:"client-resync-mode"`

	CancelWaitsOnNonfatalError bool `json:"cancel-waits-on-nonfatal-error" yaml:"cancel-waits-on-nonfatal-error" toml:"cancel-waits-on-nonfatal-error" mapstructure:"cancel-waits-on-nonfatal-error"`

	SSLTrustCertificatePath string      `json:"ssl-trust-certificate-path" yaml:"ssl-trust-certificate-path" toml:"ssl-trust-certificate-path" mapstructure:"ssl-trust-certificate-path"`
	ProxyConfig             ProxyConfig `json:"proxy-config" yaml:"proxy-config" toml:"proxy-config" mapstructure:"proxy-config"`

	FlxBootstrapBatchSizeBytes int64 `validate:"gte=0" json:"flx-bootstrap-batch-size-bytes" yaml:"flx-bootstrap-batch-size-bytes" toml:"flx-bootstrap-batch-size-bytes" mapstructure:"flx-bootstrap-batch-size-bytes"`

	TokenEndpoint        string `json:"token-endpoint" yaml:"token-endpoint" toml:"token-endpoint" mapstructure:"token-endpoint"`
	TokenRefreshRetryMax int    `validate:"gte=0" json:"token-refresh-retry-max" yaml:"token-refresh-retry-max" toml:"token-refresh-retry-max" mapstructure:"token-refresh-retry-max"`
}

// MetadataMode decodes MetadataModeRaw.
func (c *EngineConfig) MetadataMode() MetadataMode { return metadataModeFromString(c.MetadataModeRaw) }

// ReconnectMode decodes ReconnectModeRaw into reconnect.Mode (spec
// §6.3 reconnect_mode).
func (c *EngineConfig) ReconnectMode() reconnect.Mode {
	switch strings.ToLower(c.ReconnectModeRaw) {
	case "testing-zero":
		return reconnect.ModeTestingZero
	case "testing-infinite":
		return reconnect.ModeTestingInfinite
	default:
		return reconnect.ModeNormal
	}
}

// StopPolicy decodes StopPolicyRaw into session.StopPolicy (spec §6.3
// stop_policy).
func (c *EngineConfig) StopPolicy() session.StopPolicy {
	switch strings.ToLower(c.StopPolicyRaw) {
	case "afterchangesuploaded", "after-changes-uploaded":
		return session.StopAfterChangesUploaded
	case "liveindefinitely", "live-indefinitely":
		return session.StopLiveIndefinitely
	default:
		return session.StopImmediate
	}
}

// ClientResyncMode decodes ClientResyncModeRaw into
// session.ClientResyncMode (spec §6.3 client_resync_mode).
func (c *EngineConfig) ClientResyncMode() session.ClientResyncMode {
	switch strings.ToLower(c.ClientResyncModeRaw) {
	case "discardlocal", "discard-local":
		return session.ResyncDiscardLocal
	case "recover":
		return session.ResyncRecover
	case "recoverordiscard", "recover-or-discard":
		return session.ResyncRecoverOrDiscard
	default:
		return session.ResyncManual
	}
}

func withDefaults(v *spfvpr.Viper) {
	v.SetDefault("connect-timeout", 30*time.Second)
	v.SetDefault("connection-linger-time", 30*time.Second)
	v.SetDefault("ping-keepalive-period", 60*time.Second)
	v.SetDefault("pong-keepalive-timeout", 30*time.Second)
	v.SetDefault("fast-reconnect-limit", 1*time.Second)
	v.SetDefault("flx-bootstrap-batch-size-bytes", int64(1<<20))
	v.SetDefault("metadata-mode", "plain")
	v.SetDefault("reconnect-mode", "normal")
	v.SetDefault("stop-policy", "immediate")
	v.SetDefault("client-resync-mode", "manual")
	v.SetDefault("token-refresh-retry-max", 0)
}

// Load reads an EngineConfig from path (if non-empty) and the
// environment, applying the defaults of spec §6.3 for anything left
// unset, then validates the result. Environment variables are read
// with the REALMSYNC_ prefix and '-'/'.' folded to '_', matching the
// teacher's viper-binding convention.
func Load(path string) (*EngineConfig, liberr.Error) {
	v := spfvpr.New()
	withDefaults(v)

	v.SetEnvPrefix("REALMSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only resolves keys viper already knows about (from
	// a default, a config file, or an explicit bind); base-file-path
	// has no sensible default, so it needs an explicit BindEnv to be
	// reachable purely through the environment.
	_ = v.BindEnv("base-file-path")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, liberr.NewErrorTrace(int(ErrorLoadFailed), getMessage(ErrorLoadFailed), "", 0, err)
		}
	}

	cfg := &EngineConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, liberr.NewErrorTrace(int(ErrorLoadFailed), getMessage(ErrorLoadFailed), "", 0, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks EngineConfig against its struct tags (spec §6.3:
// every option listed there must resolve to something the engine can
// use).
func (c *EngineConfig) Validate() liberr.Error {
	e := ErrorValidatorError.Error(nil)

	if err := libval.New().Struct(c); err != nil {
		if er, ok := err.(*libval.InvalidValidationError); ok {
			e.Add(er)
		}
		if verrs, ok := err.(libval.ValidationErrors); ok {
			for _, er := range verrs {
				e.Add(fmt.Errorf("config field '%s' is not validated by constraint '%s'", er.Namespace(), er.ActualTag()))
			}
		}
	}

	if !e.HasParent() {
		e = nil
	}
	return e
}
