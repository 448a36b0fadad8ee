// rdmmon is a terminal UI that watches a Ja Rule widget's hotplug
// lifecycle, runs discovery, and shows live controller queue depth and
// host stats. It is the long-running counterpart to cmd/rdmctl, adapted
// from the teacher's cmd/monitor + internal/cli/ui Bubble Tea idiom:
// lipgloss panel styling, a tea.Tick-driven refresh loop, and a clipboard
// keybinding, repurposed from ASIC chip/temperature readouts to a
// discovered-UID table and widget connection panel.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/gousb"
	psutilcpu "github.com/shirou/gopsutil/v3/cpu"
	psutilmem "github.com/shirou/gopsutil/v3/mem"

	"rdmcore/internal/controller"
	"rdmcore/internal/discovery"
	"rdmcore/internal/hotplug"
	"rdmcore/internal/rdmconfig"
	"rdmcore/internal/rdmlog"
	"rdmcore/internal/registry"
	"rdmcore/internal/uid"
	"rdmcore/internal/widget"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#FFFF00")).
			Bold(true).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#9CA3AF")).
			Padding(0, 1)

	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#34D399"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
	noticeStyle = lipgloss.NewStyle().Background(lipgloss.Color("#10B981")).Foreground(lipgloss.Color("#FFFFFF")).Padding(0, 1)
)

// session bundles the live RDM stack that the Bubble Tea model reads
// from. It's built once in main and handed to the model read-only;
// mutation happens on the hotplug/registry goroutines, so the model
// only ever reads atomics/mutex-guarded accessors.
type session struct {
	gousbCtx *gousb.Context
	reg      *registry.Registry
	hotplug  *hotplug.Agent
	log      *rdmlog.Logger

	// ports tracks controllers keyed by "bus:address" for the queue-depth
	// panel; populated as widgets are registered.
	portsMu sync.Mutex
	ports   map[registry.Key]*controller.Controller
}

func main() {
	cfg := rdmconfig.New()
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "rdmmon: %v\n", err)
		os.Exit(1)
	}

	log, err := rdmlog.NewDevelopment()
	if err != nil {
		log = rdmlog.Nop()
	}
	defer log.Sync()

	sess := newSession(cfg, log)
	sess.reg = registry.New(sess.makeOpener(cfg, log), log)
	defer sess.close()

	sess.hotplug.Start()

	model := newModel(sess)
	p := tea.NewProgram(model, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "rdmmon: %v\n", err)
		os.Exit(1)
	}
}

func newSession(cfg *rdmconfig.Config, log *rdmlog.Logger) *session {
	ctx := gousb.NewContext()
	s := &session{gousbCtx: ctx, log: log, ports: make(map[registry.Key]*controller.Controller)}

	observer := func(ev hotplug.Event) {
		if s.reg != nil {
			s.reg.HandleEvent(context.Background(), ev)
		}
	}
	if cfg.KernelAssistedHotplug {
		s.hotplug = hotplug.NewKernelAssisted(ctx, observer, log)
	} else {
		s.hotplug = hotplug.NewPollingInterval(ctx, observer, log, cfg.PollInterval)
	}
	return s
}

func (s *session) makeOpener(cfg *rdmconfig.Config, log *rdmlog.Logger) registry.Opener {
	return func(ctx context.Context, ev hotplug.Event) (*widget.Widget, uid.UID, func(), error) {
		w, teardown, err := widget.OpenGousbWidgetAt(s.gousbCtx, ev.Bus, ev.Address, log)
		if err != nil {
			return nil, uid.UID{}, nil, err
		}

		port := widget.NewPort(w, 0, uid.New(0x7a70, 1), log)
		agent := discovery.New(port, log)
		ctrl := controller.New(port, agent, cfg.QueueDepth, log)

		key := registry.Key{Bus: ev.Bus, Address: ev.Address}
		s.portsMu.Lock()
		s.ports[key] = ctrl
		s.portsMu.Unlock()

		deviceUID, err := fetchUID(ctx, w)
		if err != nil {
			ctrl.Close()
			w.Close()
			teardown()
			s.portsMu.Lock()
			delete(s.ports, key)
			s.portsMu.Unlock()
			return nil, uid.UID{}, nil, err
		}
		return w, deviceUID, teardown, nil
	}
}

// fetchUID issues the widget's GetUID command, per spec.md §4.6's
// "initialize the widget, which may involve synchronous USB round-trips
// to fetch the UID" registration step.
func fetchUID(ctx context.Context, w *widget.Widget) (uid.UID, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	reply, result, err := w.SendCommand(ctx, 0, widget.GetUID, nil)
	if err != nil {
		return uid.UID{}, err
	}
	if result != widget.ResultOK {
		return uid.UID{}, fmt.Errorf("widget: GetUID failed: %s", result)
	}
	return uid.FromBytes(reply.Payload)
}

func (s *session) close() {
	s.log.Infow("shutting down")
	s.hotplug.Stop()
	if s.reg != nil {
		s.reg.Close()
	}
	s.gousbCtx.Close()
}

func (s *session) snapshotPorts() []portStatus {
	s.portsMu.Lock()
	defer s.portsMu.Unlock()
	out := make([]portStatus, 0, len(s.ports))
	for key, ctrl := range s.ports {
		out = append(out, portStatus{key: key, queueDepth: ctrl.QueueDepth()})
	}
	return out
}

type portStatus struct {
	key        registry.Key
	queueDepth int
}

// --- Bubble Tea model ---

type tickMsg time.Time
type hostStatsMsg struct {
	cpuPercent float64
	memPercent float64
}
type copyDoneMsg struct{ err error }

type model struct {
	sess       *session
	log        []string
	discovered *uid.Set
	ports      []portStatus
	hostStats  hostStatsMsg
	copyNotice string
	width      int
	height     int
}

func newModel(sess *session) model {
	return model{sess: sess, discovered: uid.NewSet()}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), hostStatsCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func hostStatsCmd() tea.Cmd {
	return func() tea.Msg {
		var stats hostStatsMsg
		if percents, err := psutilcpu.Percent(0, false); err == nil && len(percents) > 0 {
			stats.cpuPercent = percents[0]
		}
		if vm, err := psutilmem.VirtualMemory(); err == nil {
			stats.memPercent = vm.UsedPercent
		}
		return stats
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "d":
			return m, m.runDiscovery()
		case "c":
			return m, m.copyUIDs()
		}
		return m, nil

	case tickMsg:
		m.ports = m.sess.snapshotPorts()
		return m, tickCmd()

	case hostStatsMsg:
		m.hostStats = msg
		return m, hostStatsCmd()

	case discoveryResultMsg:
		if msg.err != nil {
			m.log = append(m.log, errStyle.Render("discovery failed: "+msg.err.Error()))
		} else {
			m.discovered = msg.uids
			m.log = append(m.log, okStyle.Render(fmt.Sprintf("discovery complete: %d device(s)", msg.uids.Size())))
		}
		return m, nil

	case copyDoneMsg:
		if msg.err != nil {
			m.copyNotice = "copy failed: " + msg.err.Error()
		} else {
			m.copyNotice = "UID set copied to clipboard"
		}
		return m, nil
	}
	return m, nil
}

type discoveryResultMsg struct {
	uids *uid.Set
	err  error
}

func (m model) runDiscovery() tea.Cmd {
	return func() tea.Msg {
		ports := m.sess.snapshotPorts()
		if len(ports) == 0 {
			return discoveryResultMsg{err: fmt.Errorf("no widget attached")}
		}
		// Discovery runs against one attached port, whichever the map
		// iteration yields first; other ports are not discovered.
		m.sess.portsMu.Lock()
		var ctrl *controller.Controller
		for _, c := range m.sess.ports {
			ctrl = c
			break
		}
		m.sess.portsMu.Unlock()
		if ctrl == nil {
			return discoveryResultMsg{err: fmt.Errorf("no widget attached")}
		}

		done := make(chan discoveryResultMsg, 1)
		ctrl.RunFullDiscovery(func(success bool, uids *uid.Set) {
			if !success {
				done <- discoveryResultMsg{err: fmt.Errorf("discovery aborted")}
				return
			}
			done <- discoveryResultMsg{uids: uids}
		})
		return <-done
	}
}

func (m model) copyUIDs() tea.Cmd {
	return func() tea.Msg {
		return copyDoneMsg{err: clipboard.WriteAll(m.discovered.String())}
	}
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("rdmctl monitor") + "\n\n")

	uidLines := make([]string, 0, m.discovered.Size())
	for _, u := range m.discovered.UIDs() {
		uidLines = append(uidLines, u.String())
	}
	if len(uidLines) == 0 {
		uidLines = []string{"(no discovery run yet — press 'd')"}
	}
	b.WriteString(panelStyle.Render("Discovered UIDs\n" + strings.Join(uidLines, "\n")) + "\n\n")

	portLines := make([]string, 0, len(m.ports))
	for _, p := range m.ports {
		portLines = append(portLines, fmt.Sprintf("bus %d addr %d  queue depth %d", p.key.Bus, p.key.Address, p.queueDepth))
	}
	if len(portLines) == 0 {
		portLines = []string{"(no widget attached)"}
	}
	b.WriteString(panelStyle.Render("Widgets\n" + strings.Join(portLines, "\n")) + "\n\n")

	b.WriteString(panelStyle.Render(fmt.Sprintf("Host\ncpu %.1f%%  mem %.1f%%", m.hostStats.cpuPercent, m.hostStats.memPercent)) + "\n\n")

	if m.copyNotice != "" {
		b.WriteString(noticeStyle.Render(m.copyNotice) + "\n\n")
	}

	if len(m.log) > 0 {
		start := 0
		if len(m.log) > 5 {
			start = len(m.log) - 5
		}
		b.WriteString(panelStyle.Render("Log\n"+strings.Join(m.log[start:], "\n")) + "\n\n")
	}

	b.WriteString(helpStyle.Render("d: discover   c: copy UIDs   q: quit"))
	return b.String()
}
