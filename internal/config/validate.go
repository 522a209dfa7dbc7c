package config

import "fmt"

// Severity classifies a validation Issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one configuration problem found by Validate, in the teacher's
// path/message reporting shape (cmd/etl/main.go prints these one per line).
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func errorf(path, format string, a ...any) Issue {
	return Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, a...)}
}

func warnf(path, format string, a ...any) Issue {
	return Issue{Severity: SeverityWarning, Path: path, Message: fmt.Sprintf(format, a...)}
}

// Validate checks cross-field invariants the YAML decoder can't express:
// required fields, pagination-strategy-specific parameters, write-mode
// requiring a merge key, and unknown target kinds.
func (c *Config) Validate() []Issue {
	var issues []Issue

	if len(c.Sources) == 0 {
		issues = append(issues, warnf("sources", "no sources declared"))
	}
	for i, s := range c.Sources {
		path := fmt.Sprintf("sources[%d]", i)
		if s.Name == "" {
			issues = append(issues, errorf(path+".name", "source name must not be empty"))
		}
		if s.URL == "" {
			issues = append(issues, errorf(path+".url", "source url must not be empty"))
		}
		if s.Auth != nil {
			if _, _, _, _, err := s.Auth.Resolve(); err != nil {
				issues = append(issues, errorf(path+".auth", "%v", err))
			}
		}
		if s.Pagination != nil {
			issues = append(issues, validatePagination(path+".pagination", *s.Pagination)...)
		}
	}

	for i, t := range c.Targets {
		path := fmt.Sprintf("targets[%d]", i)
		if t.Name == "" {
			issues = append(issues, errorf(path+".name", "target name must not be empty"))
		}
		switch t.Kind {
		case "postgres", "mysql", "mssql", "sqlite":
		case "bigquery", "clickhouse":
			issues = append(issues, warnf(path+".kind", "destination kind %q has no registered writer in this build", t.Kind))
		case "":
			issues = append(issues, errorf(path+".kind", "target kind must not be empty"))
		default:
			issues = append(issues, errorf(path+".kind", "unknown target kind %q", t.Kind))
		}
		if t.WriteMode == WriteMerge && len(t.MergeKey) == 0 {
			issues = append(issues, errorf(path+".merge_key", "write_mode=merge requires a non-empty merge_key"))
		}
		if _, err := t.ResolveDSN(); err != nil && t.DSN == "" {
			issues = append(issues, errorf(path+".dsn_env", "%v", err))
		}
	}

	return issues
}

func validatePagination(path string, p Pagination) []Issue {
	var issues []Issue
	switch p.Strategy {
	case StrategyLimitOffset:
		if p.LimitParam == "" || p.OffsetParam == "" {
			issues = append(issues, errorf(path, "limit_offset strategy requires limit_param and offset_param"))
		}
	case StrategyPageNumber, StrategyPageOnly:
		if p.PageParam == "" {
			issues = append(issues, errorf(path, "%s strategy requires page_param", p.Strategy))
		}
	case StrategyCursor:
		if p.CursorParam == "" || p.CursorPath == "" {
			issues = append(issues, errorf(path, "cursor strategy requires cursor_param and cursor_path"))
		}
	case "":
		issues = append(issues, errorf(path+".strategy", "pagination.strategy must not be empty"))
	default:
		issues = append(issues, errorf(path+".strategy", "unknown pagination strategy %q", p.Strategy))
	}
	if p.PageSize < 0 {
		issues = append(issues, errorf(path+".page_size", "page_size must not be negative"))
	}
	if p.Concurrency < 0 {
		issues = append(issues, errorf(path+".concurrency", "concurrency must not be negative"))
	}
	return issues
}
