// ABOUTME: Runs blocking work off the event loop and hands the result back to it
// ABOUTME: Background() for production, Sync() for deterministic tests

package schedule

// Runner executes blocking work and delivers its error to done.
type Runner interface {
	Run(work func() error, done func(error))
}

type backgroundRunner struct {
	exec Executor
}

// Background returns a Runner that performs work on a new goroutine and
// submits done to exec, so done runs on the owner's loop.
func Background(exec Executor) Runner {
	return backgroundRunner{exec: exec}
}

func (r backgroundRunner) Run(work func() error, done func(error)) {
	go func() {
		err := work()
		r.exec.Submit(func() { done(err) })
	}()
}

type syncRunner struct{}

// Sync returns a Runner that performs work and done on the caller's goroutine.
func Sync() Runner {
	return syncRunner{}
}

func (syncRunner) Run(work func() error, done func(error)) {
	done(work())
}
