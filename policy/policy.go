package policy

import (
	"strings"

	"github.com/viant/memlease/model/ram"
	"github.com/viant/memlease/model/worker"
)

// DefaultPrimaryHost is the operator's host name when none is configured.
const DefaultPrimaryHost = "home"

// Config is the serialisable host policy.
//
//   - PrimaryHost is ranked last by default placement and first for
//     core-dependent requests.
//   - Purchased lists paid hosts; an entry ending in "*" matches by prefix.
//   - PrimarySetAside is withheld on the primary host.
//   - SetAside overrides the withholding for named hosts.
type Config struct {
	PrimaryHost     string             `json:"primaryHost,omitempty" yaml:"primaryHost,omitempty"`
	Purchased       []string           `json:"purchased,omitempty" yaml:"purchased,omitempty"`
	PrimarySetAside ram.Ram            `json:"primarySetAside,omitempty" yaml:"primarySetAside,omitempty"`
	SetAside        map[string]ram.Ram `json:"setAside,omitempty" yaml:"setAside,omitempty"`
}

// Policy classifies hosts. A nil *Policy treats every host as ClassOther
// except DefaultPrimaryHost, with nothing set aside.
type Policy struct {
	config Config
}

// New creates a policy from config.
func New(config Config) *Policy {
	if config.PrimaryHost == "" {
		config.PrimaryHost = DefaultPrimaryHost
	}
	return &Policy{config: config}
}

// PrimaryHost returns the configured primary host.
func (p *Policy) PrimaryHost() string {
	if p == nil {
		return DefaultPrimaryHost
	}
	return p.config.PrimaryHost
}

// Classify returns the placement class of hostname.
func (p *Policy) Classify(hostname string) worker.Class {
	if hostname == p.PrimaryHost() {
		return worker.ClassPrimary
	}
	if p == nil {
		return worker.ClassOther
	}
	for _, candidate := range p.config.Purchased {
		if prefix, ok := strings.CutSuffix(candidate, "*"); ok {
			if strings.HasPrefix(hostname, prefix) {
				return worker.ClassPurchased
			}
			continue
		}
		if candidate == hostname {
			return worker.ClassPurchased
		}
	}
	return worker.ClassOther
}

// SetAsideFor returns the capacity permanently withheld on hostname.
func (p *Policy) SetAsideFor(hostname string) ram.Ram {
	if p == nil {
		return 0
	}
	if value, ok := p.config.SetAside[hostname]; ok {
		return value
	}
	if hostname == p.PrimaryHost() {
		return p.config.PrimarySetAside
	}
	return 0
}
