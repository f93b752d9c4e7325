// Package security builds the posture report exposed by Engine.SecurityReport.
//
// # What this package must NOT do
//
//   - Import goMFA or read live engine state; callers pass a ReportInput.
package security
