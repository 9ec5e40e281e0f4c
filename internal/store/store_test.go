package store

// Compile-time checks that both store handles satisfy the repository contract.
var (
	_ Repository = (*SQLiteStore)(nil)
	_ Repository = (*repo)(nil)
)
