// Package shared holds code used across MARSLOG packages that belongs to no
// single domain.
//
// The testutil subpackage provides a capturing slog handler for asserting
// on log output in tests:
//
//	logger, logs := testutil.NewTestLogger(t)
//	v, _ := license.NewValidator(store, nil, license.Options{Logger: logger})
//	v.Validate(ctx)
//	testutil.AssertLogContains(t, logs, slog.LevelWarn, "falling back")
package shared
