//go:build linux

package intercept

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// maxCallArgs is the argument capacity of a call record. Must match
// the args array length in the BPF object.
const maxCallArgs = 4

// callRecord is the wire layout of one ring buffer sample produced by
// a BPF entry program. Field order and padding must match the C struct.
type callRecord struct {
	TimestampNs uint64
	PID         uint32
	TID         uint32
	HookID      uint32
	NumArgs     uint32
	Args        [maxCallArgs]uint64
}

const callRecordSize = 8 + 4 + 4 + 4 + 4 + maxCallArgs*8

type attachment struct {
	desc TargetDescriptor
	cb   BeforeCall
}

// UprobePrimitive implements Primitive for native library functions by
// installing uprobes at the exported symbols of a shared object. The
// kernel invokes the BPF entry program before each call and forwards
// the call untouched, so transparency holds by construction; argument
// records reach userspace through a ring buffer and are replayed to
// the registered callbacks.
type UprobePrimitive struct {
	log logrus.FieldLogger
	cfg UprobeConfig

	spec  *ebpf.CollectionSpec
	coll  *ebpf.Collection
	links []link.Link

	mu    sync.Mutex
	hooks map[uint32]attachment

	reader *ringbuf.Reader
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Offset from CLOCK_MONOTONIC to wall clock, for reporting
	// record timestamps as wall-clock times.
	monotonicOffsetNs int64
}

var (
	_ Primitive = (*UprobePrimitive)(nil)
	_ Runner    = (*UprobePrimitive)(nil)
)

// NewUprobePrimitive parses the BPF object file and prepares the
// primitive. Programs are not loaded into the kernel until Start.
func NewUprobePrimitive(
	log logrus.FieldLogger,
	cfg UprobeConfig,
) (*UprobePrimitive, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid uprobe config: %w", err)
	}

	if cfg.RingBufferSize <= 0 {
		cfg.RingBufferSize = 1 << 20
	}

	spec, err := ebpf.LoadCollectionSpec(cfg.ObjectPath)
	if err != nil {
		return nil, fmt.Errorf(
			"loading BPF object %s: %w", cfg.ObjectPath, err,
		)
	}

	// Override ring buffer size.
	if m, ok := spec.Maps["events"]; ok {
		m.MaxEntries = uint32(cfg.RingBufferSize)
	}

	return &UprobePrimitive{
		log:   log.WithField("component", "uprobe"),
		cfg:   cfg,
		spec:  spec,
		hooks: make(map[uint32]attachment),
	}, nil
}

// Attach registers a callback for one native symbol. Availability is
// decided against the parsed BPF object: a symbol with no entry
// program cannot be observed in this process.
func (p *UprobePrimitive) Attach(
	target TargetDescriptor,
	cb BeforeCall,
) error {
	symbol := target.Symbol()

	id, ok := nativeHookIDs[symbol]
	if !ok {
		return fmt.Errorf("attaching %s: %w", target.Name, ErrTargetUnavailable)
	}

	if _, ok := p.spec.Programs[progName(symbol)]; !ok {
		return fmt.Errorf("attaching %s: %w", target.Name, ErrTargetUnavailable)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.hooks[id] = attachment{desc: target, cb: cb}

	return nil
}

func (p *UprobePrimitive) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)

	coll, err := ebpf.NewCollection(p.spec)
	if err != nil {
		return fmt.Errorf("loading BPF collection: %w", err)
	}

	p.coll = coll

	ex, err := link.OpenExecutable(p.cfg.LibraryPath)
	if err != nil {
		p.cleanup()

		return fmt.Errorf(
			"opening %s: %w", p.cfg.LibraryPath, err,
		)
	}

	p.mu.Lock()
	hooks := make([]attachment, 0, len(p.hooks))

	for _, a := range p.hooks {
		hooks = append(hooks, a)
	}
	p.mu.Unlock()

	for _, a := range hooks {
		symbol := a.desc.Symbol()

		prog := coll.Programs[progName(symbol)]

		l, err := ex.Uprobe(symbol, prog, nil)
		if err != nil {
			p.cleanup()

			return fmt.Errorf("attaching uprobe %s: %w", symbol, err)
		}

		p.links = append(p.links, l)
	}

	if err := p.populateTrackedPIDs(); err != nil {
		p.cleanup()

		return fmt.Errorf("populating tracked PIDs: %w", err)
	}

	p.reader, err = ringbuf.NewReader(p.coll.Maps["events"])
	if err != nil {
		p.cleanup()

		return fmt.Errorf("creating ring buffer reader: %w", err)
	}

	p.refreshMonotonicOffset()

	p.wg.Add(1)

	go p.readLoop(ctx)

	p.log.WithField("hooks", len(hooks)).Info("Uprobe primitive started")

	return nil
}

func (p *UprobePrimitive) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}

	if p.reader != nil {
		p.reader.Close()
	}

	p.wg.Wait()
	p.cleanup()

	p.log.Info("Uprobe primitive stopped")

	return nil
}

func (p *UprobePrimitive) cleanup() {
	for _, l := range p.links {
		l.Close()
	}

	p.links = nil

	if p.coll != nil {
		p.coll.Close()
		p.coll = nil
	}
}

// populateTrackedPIDs writes the PIDs of matching processes into the
// tracked_pids map so the BPF programs only record calls made by the
// observed application. An empty process_names list leaves the map
// empty, which the programs treat as "observe everything".
func (p *UprobePrimitive) populateTrackedPIDs() error {
	if len(p.cfg.ProcessNames) == 0 {
		return nil
	}

	m, ok := p.coll.Maps["tracked_pids"]
	if !ok {
		return fmt.Errorf("tracked_pids map missing from BPF object")
	}

	pids, err := findPIDsByComm(p.cfg.ProcessNames)
	if err != nil {
		return err
	}

	if len(pids) == 0 {
		p.log.WithField("names", p.cfg.ProcessNames).
			Warn("No matching processes found")
	}

	for _, pid := range pids {
		if err := m.Put(pid, uint8(1)); err != nil {
			return fmt.Errorf("adding PID %d: %w", pid, err)
		}
	}

	p.log.WithField("count", len(pids)).Debug("Tracked PIDs populated")

	return nil
}

// findPIDsByComm scans /proc for processes whose comm matches one of
// the given names.
func findPIDsByComm(names []string) ([]uint32, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, fmt.Errorf("reading /proc: %w", err)
	}

	pids := make([]uint32, 0, 8)

	for _, entry := range entries {
		pid, err := strconv.ParseUint(entry.Name(), 10, 32)
		if err != nil {
			continue
		}

		data, err := os.ReadFile(
			fmt.Sprintf("/proc/%d/comm", pid),
		)
		if err != nil {
			continue
		}

		comm := strings.TrimSpace(string(data))

		for _, name := range names {
			if comm == name {
				pids = append(pids, uint32(pid))

				break
			}
		}
	}

	return pids, nil
}

func (p *UprobePrimitive) readLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		record, err := p.reader.Read()
		if err != nil {
			if errors.Is(err, os.ErrClosed) {
				return
			}

			p.log.WithError(err).Warn("Ring buffer read error")

			continue
		}

		rec, err := parseCallRecord(record.RawSample)
		if err != nil {
			p.log.WithError(err).Debug("Call record parse error")

			continue
		}

		p.dispatch(rec)
	}
}

// dispatch replays one call record to its registered callback. A
// misbehaving callback must not kill the read loop.
func (p *UprobePrimitive) dispatch(rec callRecord) {
	p.mu.Lock()
	a, ok := p.hooks[rec.HookID]
	p.mu.Unlock()

	if !ok {
		p.log.WithField("hook_id", rec.HookID).
			Debug("Record for unattached hook")

		return
	}

	wallNs := int64(rec.TimestampNs) + p.monotonicOffsetNs

	p.log.WithFields(logrus.Fields{
		"target": a.desc.Name,
		"pid":    rec.PID,
		"tid":    rec.TID,
		"time":   time.Unix(0, wallNs).Format(time.RFC3339Nano),
	}).Debug("Call record")

	defer func() {
		if r := recover(); r != nil {
			p.log.WithField("panic", r).
				Debug("Hook callback panicked")
		}
	}()

	a.cb(&nativeCall{name: a.desc.Name, rec: rec})
}

// parseCallRecord decodes a raw ring buffer sample.
func parseCallRecord(data []byte) (callRecord, error) {
	if len(data) < callRecordSize {
		return callRecord{}, fmt.Errorf(
			"record too short: %d bytes", len(data),
		)
	}

	var rec callRecord
	if err := binary.Read(
		bytes.NewReader(data), binary.LittleEndian, &rec,
	); err != nil {
		return callRecord{}, fmt.Errorf("reading call record: %w", err)
	}

	if rec.NumArgs > maxCallArgs {
		return callRecord{}, fmt.Errorf(
			"record claims %d args", rec.NumArgs,
		)
	}

	return rec, nil
}

// refreshMonotonicOffset recomputes the CLOCK_MONOTONIC to wall clock
// offset. BPF ktime timestamps are monotonic since boot, not epoch.
func (p *UprobePrimitive) refreshMonotonicOffset() {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		p.log.WithError(err).
			Debug("Failed to read monotonic clock")

		return
	}

	p.monotonicOffsetNs = time.Now().UnixNano() - ts.Nano()
}

func progName(symbol string) string {
	return "on_" + symbol
}

// nativeCall adapts a ring buffer record to the Call interface.
type nativeCall struct {
	name string
	rec  callRecord
}

var _ Call = (*nativeCall)(nil)

func (c *nativeCall) Target() string { return c.name }

func (c *nativeCall) NumArgs() int { return int(c.rec.NumArgs) }

func (c *nativeCall) Arg(i int) string {
	if i < 0 || i >= int(c.rec.NumArgs) {
		return ""
	}

	return strconv.FormatUint(c.rec.Args[i], 10)
}

// CaptureStack is unavailable across the managed/native boundary.
func (c *nativeCall) CaptureStack() []Frame { return nil }
