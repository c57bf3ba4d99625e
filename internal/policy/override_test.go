package policy

import (
	"testing"

	"github.com/goccy/go-yaml"
)

func TestOverrideUnmarshalAbsent(t *testing.T) {
	var o Overrides
	if err := yaml.Unmarshal([]byte(`{}`), &o); err != nil {
		t.Fatal(err)
	}
	if !o.RateLimit.IsZero() || !o.Cache.IsZero() {
		t.Errorf("absent facets should be zero: %+v", o)
	}
}

func TestOverrideUnmarshalFalse(t *testing.T) {
	var o Overrides
	if err := yaml.Unmarshal([]byte("rateLimit: false\n"), &o); err != nil {
		t.Fatal(err)
	}
	if !o.RateLimit.Disabled {
		t.Error("rateLimit: false should disable the facet")
	}
	if o.RateLimit.Policy != nil {
		t.Error("disabled facet must not carry a policy")
	}
}

func TestOverrideUnmarshalTrue(t *testing.T) {
	var o Overrides
	if err := yaml.Unmarshal([]byte("auth: true\n"), &o); err != nil {
		t.Fatal(err)
	}
	if o.Auth.Disabled || o.Auth.Policy != nil {
		t.Errorf("auth: true should inherit defaults: %+v", o.Auth)
	}
}

func TestOverrideUnmarshalObject(t *testing.T) {
	input := `
rateLimit:
  preset: strict
  maxRequests: 5
cache:
  enabled: true
  ttlMs: 10000
`
	var o Overrides
	if err := yaml.Unmarshal([]byte(input), &o); err != nil {
		t.Fatal(err)
	}

	rl := o.RateLimit.Policy
	if rl == nil || rl.Preset == nil || *rl.Preset != "strict" {
		t.Fatalf("rate limit override = %+v", rl)
	}
	if rl.MaxRequests == nil || *rl.MaxRequests != 5 {
		t.Errorf("maxRequests = %v", rl.MaxRequests)
	}
	if rl.WindowMs != nil {
		t.Error("unset fields must stay nil")
	}

	c := o.Cache.Policy
	if c == nil || c.Enabled == nil || !*c.Enabled || *c.TTLMs != 10000 {
		t.Errorf("cache override = %+v", c)
	}
}

func TestOverrideUnmarshalJSON(t *testing.T) {
	input := []byte(`{"rateLimit": false, "auth": {"required": true}}`)
	var o Overrides
	if err := yaml.Unmarshal(input, &o); err != nil {
		t.Fatal(err)
	}
	if !o.RateLimit.Disabled {
		t.Error("rateLimit false not honored from JSON payload")
	}
	if o.Auth.Policy == nil || o.Auth.Policy.Required == nil || !*o.Auth.Policy.Required {
		t.Errorf("auth override = %+v", o.Auth.Policy)
	}
}
