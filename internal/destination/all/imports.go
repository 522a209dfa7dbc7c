// Package all exists purely for its side effects: importing it registers
// every destination backend with the internal/destination factory via each
// backend package's init(). This mirrors the teacher's
// internal/storage/all package, which does the same for the postgres/
// mysql/mssql/sqlite backends — only cmd/apitap needs to import this
// package; everything else depends only on the backend-agnostic
// destination.Repository interface.
package all

import (
	_ "apitap/internal/destination/mssql"
	_ "apitap/internal/destination/mysql"
	_ "apitap/internal/destination/postgres"
	_ "apitap/internal/destination/sqlite"
)
