package nodebindings

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// gethListenRE matches geth's "HTTP server started" log line.
var gethListenRE = regexp.MustCompile(`endpoint=[^:]*:(\d+)`)

// Geth runs a geth node in dev mode as a subprocess.
type Geth struct {
	args      []string
	proc      *exec.Cmd
	logger    log.Logger
	startedCh chan struct{}
	wg        sync.WaitGroup
	port      int32
}

type GethOption func(*Geth)

// WithGethBlockTime sets the dev-mode block period in seconds.
// 0 mines on demand.
func WithGethBlockTime(seconds int) GethOption {
	return func(g *Geth) {
		g.args = append(g.args, "--dev.period", strconv.Itoa(seconds))
	}
}

func WithGethDataDir(dir string) GethOption {
	return func(g *Geth) {
		g.args = append(g.args, "--datadir", dir)
	}
}

func WithGethPort(port int) GethOption {
	return func(g *Geth) {
		g.args = append(g.args, "--http.port", strconv.Itoa(port))
	}
}

func NewGeth(logger log.Logger, opts ...GethOption) (*Geth, error) {
	if _, err := exec.LookPath("geth"); err != nil {
		return nil, fmt.Errorf("geth not found in PATH: %w", err)
	}
	g := &Geth{
		args: []string{
			"--dev",
			"--http", "--http.api", "eth,net,web3,debug", "--http.port", "0",
			"--ws", "--ws.api", "eth,net,web3", "--ws.port", "0",
		},
		logger:    logger,
		startedCh: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Geth) Start() error {
	proc := exec.Command("geth", g.args...)
	stdout, err := proc.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := proc.StderrPipe()
	if err != nil {
		return err
	}
	g.proc = proc
	if err := g.proc.Start(); err != nil {
		return err
	}

	g.wg.Add(2)
	go g.outputStream(stdout)
	go g.outputStream(stderr)

	timeoutC := time.NewTimer(startTimeout)
	defer timeoutC.Stop()

	select {
	case <-g.startedCh:
		return nil
	case <-timeoutC.C:
		g.Stop()
		return fmt.Errorf("geth did not start in time")
	}
}

// Stop interrupts the node and waits for it to exit. Failures are logged,
// not returned.
func (g *Geth) Stop() {
	if g.proc == nil {
		return
	}
	if err := g.proc.Process.Signal(os.Interrupt); err != nil {
		g.logger.Warn("Failed to interrupt geth", "err", err)
		if err := g.proc.Process.Kill(); err != nil {
			g.logger.Warn("Failed to kill geth", "err", err)
		}
	}
	defer g.wg.Wait()
	if err := g.proc.Wait(); err != nil {
		g.logger.Warn("Geth exited with error", "err", err)
	}
}

func (g *Geth) outputStream(stream io.ReadCloser) {
	defer g.wg.Done()
	scanner := bufio.NewScanner(stream)

	for scanner.Scan() {
		line := scanner.Text()

		if atomic.LoadInt32(&g.port) == 0 && strings.Contains(line, "HTTP server started") {
			if m := gethListenRE.FindStringSubmatch(line); m != nil {
				port, err := strconv.Atoi(m[1])
				if err == nil {
					atomic.StoreInt32(&g.port, int32(port))
					g.startedCh <- struct{}{}
				} else {
					g.logger.Error("failed to parse port from geth output", "err", err)
				}
			}
		}

		if atomic.LoadInt32(&g.port) == 0 {
			g.logger.Debug("[GETH] " + line)
		} else {
			g.logger.Trace("[GETH] " + line)
		}
	}
}

// RPCUrl returns the HTTP endpoint of the running node.
func (g *Geth) RPCUrl() (string, error) {
	port := atomic.LoadInt32(&g.port)
	if port == 0 {
		return "", fmt.Errorf("geth not started")
	}
	return fmt.Sprintf("http://localhost:%d", port), nil
}
