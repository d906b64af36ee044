package record

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/pkg/errors"
)

// defaultSnapLen matches the teacher's choice, itself the same default
// tcpdump uses.
const defaultSnapLen = 262144

// DefaultBPFFilter builds the standard "tcp port <p>" filter spec.md
// §4.1 names for both live and offline variants.
func DefaultBPFFilter(port uint16) string {
	return "tcp port " + itoa(port)
}

func itoa(port uint16) string {
	// Covers every uint16 port (at most five digits) without strconv.
	if port == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for port > 0 {
		i--
		buf[i] = byte('0' + port%10)
		port /= 10
	}
	return string(buf[i:])
}

func pump(ctx context.Context, handle *pcap.Handle, finite bool) (<-chan RawSegment, *CaptureStats) {
	out := make(chan RawSegment, 64)
	stats := &CaptureStats{}

	go func() {
		defer close(out)
		defer handle.Close()

		src := gopacket.NewPacketSource(handle, handle.LinkType())
		src.DecodeOptions.Lazy = true
		src.DecodeOptions.NoCopy = true

		for {
			select {
			case <-ctx.Done():
				return
			case packet, ok := <-src.Packets():
				if !ok {
					return
				}
				seg, ok := toSegment(packet)
				if !ok {
					continue
				}
				atomic.AddUint64(&stats.Received, 1)
				atomic.AddUint64(&stats.Bytes, uint64(len(seg.Payload)))
				select {
				case out <- seg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, stats
}

func toSegment(packet gopacket.Packet) (RawSegment, bool) {
	netLayer := packet.NetworkLayer()
	tcpLayer := packet.Layer(layers.LayerTypeTCP)
	if netLayer == nil || tcpLayer == nil {
		return RawSegment{}, false
	}
	tcp, ok := tcpLayer.(*layers.TCP)
	if !ok {
		return RawSegment{}, false
	}

	var srcIP, dstIP = netLayer.NetworkFlow().Src().Raw(), netLayer.NetworkFlow().Dst().Raw()

	ts := time.Now()
	if md := packet.Metadata(); md != nil && !md.Timestamp.IsZero() {
		ts = md.Timestamp
	}

	return RawSegment{
		Flow: FlowKey{
			Src: Endpoint{IP: append([]byte(nil), srcIP...), Port: uint16(tcp.SrcPort)},
			Dst: Endpoint{IP: append([]byte(nil), dstIP...), Port: uint16(tcp.DstPort)},
		},
		Seq:       uint32(tcp.Seq),
		Payload:   append([]byte(nil), tcp.Payload...),
		Timestamp: ts,
	}, true
}

// FileSource reads packets from an offline capture file, the same
// filter applied at record time. It is finite: the channel closes
// when the file is exhausted.
type FileSource struct {
	path, bpf string
	stats     *CaptureStats
}

// NewFileSource builds a PacketSource over a pcap/pcapng file.
func NewFileSource(path string, bpfFilter string) *FileSource {
	return &FileSource{path: path, bpf: bpfFilter}
}

func (f *FileSource) Capture(ctx context.Context) (<-chan RawSegment, error) {
	handle, err := pcap.OpenOffline(f.path)
	if err != nil {
		return nil, errors.Wrap(err, "record: open capture file")
	}
	if f.bpf != "" {
		if err := handle.SetBPFFilter(f.bpf); err != nil {
			handle.Close()
			return nil, errors.Wrap(err, "record: set bpf filter")
		}
	}
	out, stats := pump(ctx, handle, true)
	f.stats = stats
	return out, nil
}

func (f *FileSource) IsFinite() bool { return true }

func (f *FileSource) Stats() CaptureStats {
	if f.stats == nil {
		return CaptureStats{}
	}
	return CaptureStats{
		Received: atomic.LoadUint64(&f.stats.Received),
		Dropped:  atomic.LoadUint64(&f.stats.Dropped),
		Bytes:    atomic.LoadUint64(&f.stats.Bytes),
	}
}

// LiveSource reads packets from a live network interface. It runs
// until ctx is cancelled; it is not finite.
type LiveSource struct {
	device, bpf string
	stats       *CaptureStats
}

// NewLiveSource builds a PacketSource over a live NIC.
func NewLiveSource(device string, bpfFilter string) *LiveSource {
	return &LiveSource{device: device, bpf: bpfFilter}
}

func (l *LiveSource) Capture(ctx context.Context) (<-chan RawSegment, error) {
	handle, err := pcap.OpenLive(l.device, defaultSnapLen, true, pcap.BlockForever)
	if err != nil {
		return nil, errors.Wrap(err, "record: open live device")
	}
	if l.bpf != "" {
		if err := handle.SetBPFFilter(l.bpf); err != nil {
			handle.Close()
			return nil, errors.Wrap(err, "record: set bpf filter")
		}
	}
	out, stats := pump(ctx, handle, false)
	l.stats = stats
	return out, nil
}

func (l *LiveSource) IsFinite() bool { return false }

func (l *LiveSource) Stats() CaptureStats {
	if l.stats == nil {
		return CaptureStats{}
	}
	return CaptureStats{
		Received: atomic.LoadUint64(&l.stats.Received),
		Dropped:  atomic.LoadUint64(&l.stats.Dropped),
		Bytes:    atomic.LoadUint64(&l.stats.Bytes),
	}
}
