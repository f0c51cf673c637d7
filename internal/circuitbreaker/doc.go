// Package circuitbreaker stops the scheduler from contacting a project that
// keeps failing.
//
// Each project gets a breaker with three states:
//
//   - CLOSED: the project is contacted every round
//   - OPEN: the project failed threshold times in a row and is skipped
//   - HALF-OPEN: the reset timeout passed and one probe round is allowed
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(3, time.Hour)
//	b := registry.For(project.ProjectID)
//	if b.Allow() {
//	    result := runner.KeepaliveProject(ctx, project)
//	    if result.Success {
//	        b.RecordSuccess()
//	    } else {
//	        b.RecordFailure()
//	    }
//	}
package circuitbreaker
