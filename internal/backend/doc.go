// Package backend provides job.Backend implementations.
//
// Local runs tools as child processes of the current process. DryRun logs
// the command lines it would run and succeeds without executing anything.
package backend
