package config

import "testing"

func hasError(issues []Issue, path string) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError && iss.Path == path {
			return true
		}
	}
	return false
}

func TestValidateFlagsMissingSourceFields(t *testing.T) {
	t.Parallel()

	c := &Config{Sources: []Source{{}}}
	issues := c.Validate()
	if !hasError(issues, "sources[0].name") {
		t.Fatalf("issues = %+v, want an error on sources[0].name", issues)
	}
	if !hasError(issues, "sources[0].url") {
		t.Fatalf("issues = %+v, want an error on sources[0].url", issues)
	}
}

func TestValidateAcceptsWellFormedSource(t *testing.T) {
	t.Parallel()

	c := &Config{Sources: []Source{{
		Name: "s",
		URL:  "https://example.com",
		Pagination: &Pagination{
			Strategy:    StrategyLimitOffset,
			LimitParam:  "limit",
			OffsetParam: "offset",
		},
	}}}
	for _, iss := range c.Validate() {
		if iss.Severity == SeverityError {
			t.Fatalf("unexpected error: %+v", iss)
		}
	}
}

func TestValidatePaginationRequiresStrategySpecificParams(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		p    Pagination
	}{
		{"limit_offset missing params", Pagination{Strategy: StrategyLimitOffset}},
		{"page_number missing page_param", Pagination{Strategy: StrategyPageNumber}},
		{"cursor missing params", Pagination{Strategy: StrategyCursor}},
		{"empty strategy", Pagination{}},
		{"unknown strategy", Pagination{Strategy: "bogus"}},
	}
	for _, tc := range cases {
		issues := validatePagination("p", tc.p)
		if len(issues) == 0 {
			t.Errorf("%s: validatePagination() = empty, want at least one issue", tc.name)
		}
	}
}

func TestValidatePaginationRejectsNegativeSizes(t *testing.T) {
	t.Parallel()

	p := Pagination{Strategy: StrategyPageOnly, PageParam: "page", PageSize: -1, Concurrency: -1}
	issues := validatePagination("p", p)
	if !hasError(issues, "p.page_size") {
		t.Fatalf("issues = %+v, want an error on p.page_size", issues)
	}
	if !hasError(issues, "p.concurrency") {
		t.Fatalf("issues = %+v, want an error on p.concurrency", issues)
	}
}

func TestValidateTargetRequiresMergeKeyForMergeMode(t *testing.T) {
	t.Parallel()

	c := &Config{Targets: []Target{{Name: "t", Kind: "postgres", DSN: "x", WriteMode: WriteMerge}}}
	issues := c.Validate()
	if !hasError(issues, "targets[0].merge_key") {
		t.Fatalf("issues = %+v, want an error on targets[0].merge_key", issues)
	}
}

func TestValidateTargetRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	c := &Config{Targets: []Target{{Name: "t", Kind: "mongodb", DSN: "x"}}}
	issues := c.Validate()
	if !hasError(issues, "targets[0].kind") {
		t.Fatalf("issues = %+v, want an error on targets[0].kind", issues)
	}
}

func TestValidateTargetWarnsOnUnwiredKind(t *testing.T) {
	t.Parallel()

	c := &Config{Targets: []Target{{Name: "t", Kind: "bigquery", DSN: "x"}}}
	issues := c.Validate()
	var found bool
	for _, iss := range issues {
		if iss.Path == "targets[0].kind" && iss.Severity == SeverityWarning {
			found = true
		}
	}
	if !found {
		t.Fatalf("issues = %+v, want a warning (not error) on targets[0].kind for bigquery", issues)
	}
}

func TestValidateNoSourcesWarnsNotErrors(t *testing.T) {
	t.Parallel()

	c := &Config{}
	issues := c.Validate()
	if len(issues) != 1 || issues[0].Severity != SeverityWarning {
		t.Fatalf("issues = %+v, want exactly one warning for an empty config", issues)
	}
}
