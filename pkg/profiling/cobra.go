package profiling

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/spf13/cobra"
)

type ctxKey struct{}

// FromContext returns the command's timer, or nil when --timing is off.
func FromContext(ctx context.Context) *Timer {
	t, _ := ctx.Value(ctxKey{}).(*Timer)
	return t
}

// CobraProfiler adds --timing, --cpu-profile and --mem-profile to a
// command tree.
type CobraProfiler struct {
	cpuPath string
	memPath string
	timing  bool

	cpuFile *os.File
	timer   *Timer
}

func NewCobraProfiler() *CobraProfiler {
	return &CobraProfiler{}
}

func (p *CobraProfiler) AddFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&p.cpuPath, "cpu-profile", "", "Write a CPU profile to this file")
	cmd.PersistentFlags().StringVar(&p.memPath, "mem-profile", "", "Write a heap profile to this file on exit")
	cmd.PersistentFlags().BoolVar(&p.timing, "timing", false, "Print step timings to stderr on exit")
	cmd.PersistentFlags().Lookup("cpu-profile").Hidden = true
	cmd.PersistentFlags().Lookup("mem-profile").Hidden = true
}

// PreRun starts profiling and stores the timer in the command context.
func (p *CobraProfiler) PreRun(cmd *cobra.Command, _ []string) error {
	if p.timing {
		p.timer = NewTimer()
		cmd.SetContext(context.WithValue(cmd.Context(), ctxKey{}, p.timer))
	}
	if p.cpuPath != "" {
		f, err := os.Create(p.cpuPath)
		if err != nil {
			return fmt.Errorf("could not create CPU profile: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return fmt.Errorf("could not start CPU profile: %w", err)
		}
		p.cpuFile = f
	}
	return nil
}

// PostRun flushes profiles and prints the timing summary.
func (p *CobraProfiler) PostRun(cmd *cobra.Command, _ []string) {
	if p.cpuFile != nil {
		pprof.StopCPUProfile()
		p.cpuFile.Close()
		p.cpuFile = nil
	}
	if p.memPath != "" {
		if f, err := os.Create(p.memPath); err == nil {
			runtime.GC()
			_ = pprof.WriteHeapProfile(f)
			f.Close()
		} else {
			fmt.Fprintf(cmd.ErrOrStderr(), "could not create heap profile: %v\n", err)
		}
	}
	p.timer.Summarize(cmd.ErrOrStderr())
}
