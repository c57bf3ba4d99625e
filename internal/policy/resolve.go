package policy

// Resolve merges service-level defaults with route-level overrides
// into the policies a route's middleware chain is built from.
//
// Per facet: an explicit false disables it, an absent override
// inherits the service default, and an override object is
// shallow-merged field-wise over the default. Resolve is pure.
func Resolve(defaults Set, overrides Overrides) Resolved {
	var r Resolved

	r.RateLimit, r.RateLimitEnabled = resolveRateLimit(defaults.RateLimit, overrides.RateLimit)
	r.Auth, r.AuthEnabled = resolveAuth(defaults.Auth, overrides.Auth)
	r.Logging, r.LoggingEnabled = resolveLogging(defaults.Logging, overrides.Logging)
	r.Cache, r.CacheEnabled = resolveCache(defaults.Cache, overrides.Cache)

	// Preset "none" disables rate limiting outright.
	if r.RateLimit.Preset == "none" {
		r.RateLimitEnabled = false
	}
	return r
}

func resolveRateLimit(def *RateLimitPolicy, o Override[RateLimitOverride]) (RateLimitPolicy, bool) {
	if o.Disabled {
		return RateLimitPolicy{}, false
	}

	var p RateLimitPolicy
	if def != nil {
		p = *def
	} else {
		p = Preset("default")
	}

	if ov := o.Policy; ov != nil {
		if ov.Preset != nil {
			// A preset override replaces the base before field merges.
			p = Preset(*ov.Preset)
		}
		if ov.WindowMs != nil {
			p.WindowMs = *ov.WindowMs
		}
		if ov.MaxRequests != nil {
			p.MaxRequests = *ov.MaxRequests
		}
		if ov.KeyType != nil {
			p.KeyType = *ov.KeyType
		}
		if ov.Segment != nil {
			p.Segment = *ov.Segment
		}
	}

	if p.WindowMs <= 0 {
		p.WindowMs = 60_000
	}
	if p.KeyType == "" {
		p.KeyType = KeyPerUser
	}
	return p, true
}

func resolveAuth(def *AuthPolicy, o Override[AuthOverride]) (AuthPolicy, bool) {
	if o.Disabled {
		return AuthPolicy{}, false
	}

	var p AuthPolicy
	if def != nil {
		p = *def
	}

	if ov := o.Policy; ov != nil {
		if ov.Required != nil {
			p.Required = *ov.Required
		}
		if ov.InjectUserID != nil {
			p.InjectUserID = *ov.InjectUserID
		}
		if ov.Scopes != nil {
			p.Scopes = ov.Scopes
		}
		if ov.AllowGuest != nil {
			p.AllowGuest = *ov.AllowGuest
		}
	}
	return p, true
}

func resolveLogging(def *LoggingPolicy, o Override[LoggingOverride]) (LoggingPolicy, bool) {
	if o.Disabled {
		return LoggingPolicy{}, false
	}

	var p LoggingPolicy
	if def != nil {
		p = *def
	}

	if ov := o.Policy; ov != nil {
		if ov.Level != nil {
			p.Level = *ov.Level
		}
		if ov.IncludeRequestBody != nil {
			p.IncludeRequestBody = *ov.IncludeRequestBody
		}
		if ov.IncludeResponseBody != nil {
			p.IncludeResponseBody = *ov.IncludeResponseBody
		}
		if ov.Tags != nil {
			p.Tags = ov.Tags
		}
		if ov.CorrelationHeader != nil {
			p.CorrelationHeader = *ov.CorrelationHeader
		}
	}

	if p.Level == "" {
		p.Level = "info"
	}
	return p, true
}

func resolveCache(def *CachePolicy, o Override[CacheOverride]) (CachePolicy, bool) {
	if o.Disabled {
		return CachePolicy{}, false
	}

	var p CachePolicy
	if def != nil {
		p = *def
	}

	if ov := o.Policy; ov != nil {
		if ov.Enabled != nil {
			p.Enabled = *ov.Enabled
		}
		if ov.TTLMs != nil {
			p.TTLMs = *ov.TTLMs
		}
		if ov.StaleWhileRevalidateMs != nil {
			p.StaleWhileRevalidateMs = *ov.StaleWhileRevalidateMs
		}
		if ov.VaryBy != nil {
			p.VaryBy = ov.VaryBy
		}
	}

	if p.TTLMs <= 0 {
		p.TTLMs = 60_000
	}
	return p, p.Enabled
}
