// Command agent is a demo wiring of the flow aggregator core: a synthetic
// flow-update generator stands in for the external flow-key classifier, and
// a pair of DNS listeners stand in for the external packet capture path,
// both feeding the real collector core in internal/collector.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"flowcollector/internal/collector"
	"flowcollector/internal/dnslog"
	"flowcollector/internal/flow"
)

func main() {
	throttle := flag.Uint64("throttle", 1000, "target records/second, must be in [100, 1000000]")
	workers := flag.Int("workers", 2, "number of aggregator worker instances")
	tapTypesFlag := flag.String("tap-types", "", "comma-separated allowed tap types (empty = accept all)")
	dnsUDPAddr := flag.String("dns-udp-addr", ":8053", "UDP address to listen for DNS payloads on")
	dnsTCPAddr := flag.String("dns-tcp-addr", ":8053", "TCP address to listen for DNS payloads on")
	logLevel := flag.String("log-level", "info", "log level: debug/info/warn/error")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch *logLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		log.Fatal().Str("level", *logLevel).Msg("invalid log level")
	}

	tapTypes := parseTapTypes(*tapTypesFlag)

	inputs := make([]<-chan *flow.TaggedFlow, *workers)
	rawInputs := make([]chan *flow.TaggedFlow, *workers)
	for i := range rawInputs {
		rawInputs[i] = make(chan *flow.TaggedFlow, 4096)
		inputs[i] = rawInputs[i]
	}
	output := make(chan *flow.TaggedFlow, 4096)

	c := collector.New(collector.Config{
		Workers:  *workers,
		Throttle: *throttle,
		TapTypes: tapTypes,
	}, inputs, output)
	c.Start()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go consumeOutput(ctx, output)
	go udpDNSListener(ctx, *dnsUDPAddr)
	go tcpDNSListener(ctx, *dnsTCPAddr)
	go syntheticFlowGenerator(ctx, rawInputs)
	go reportCounters(ctx, c)

	<-ctx.Done()
	log.Info().Msg("shutting down")
	c.Stop()
}

func parseTapTypes(s string) []uint32 {
	s = strings.TrimSpace(s)
	if s == "" {
		return []uint32{uint32(flow.TapTypeAny)}
	}
	parts := strings.Split(s, ",")
	out := make([]uint32, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			log.Fatal().Str("value", p).Msg("invalid tap type")
		}
		out = append(out, uint32(v))
	}
	return out
}

func consumeOutput(ctx context.Context, output <-chan *flow.TaggedFlow) {
	for {
		select {
		case f := <-output:
			log.Debug().
				Uint64("flow_id", f.FlowID).
				Str("close_type", f.CloseType.String()).
				Dur("start_time", f.StartTime).
				Dur("end_time", f.EndTime).
				Msg("flow emitted")
		case <-ctx.Done():
			return
		}
	}
}

func reportCounters(ctx context.Context, c *collector.Collector) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			snap := c.Counters()
			log.Info().
				Uint64("drop_before_window", snap.DropBeforeWindow).
				Uint64("out", snap.Out).
				Uint64("drop_in_throttle", snap.DropInThrottle).
				Msg("counters")
		case <-ctx.Done():
			return
		}
	}
}

// syntheticFlowGenerator stands in for the external flow-key classifier: it
// round-robins synthetic ForcedReport updates across the worker input
// channels so the aggregator core has something to merge.
func syntheticFlowGenerator(ctx context.Context, inputs []chan *flow.TaggedFlow) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	var flowID uint64
	for {
		select {
		case <-ticker.C:
			flowID++
			now := time.Duration(time.Now().UnixNano())
			f := &flow.TaggedFlow{
				FlowID:       flowID % 64,
				FlowStatTime: now,
				CloseType:    flow.ForcedReport,
				IsNewFlow:    flowID%64 == 0,
			}
			f.Src.PacketTx = 1
			f.Src.ByteTx = 128
			select {
			case inputs[flowID%uint64(len(inputs))] <- f:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func udpDNSListener(ctx context.Context, addr string) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		log.Error().Err(err).Str("addr", addr).Msg("dns udp: invalid address")
		return
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		log.Error().Err(err).Str("addr", addr).Msg("dns udp: listen failed")
		return
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	decoder := dnslog.NewDnsLog()
	buf := make([]byte, 4096)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				continue
			}
		}
		if err := decoder.Parse(buf[:n], dnslog.ProtoUDP, dnslog.DirectionClientToServer); err != nil {
			log.Debug().Err(err).Msg("dns udp: decode failed")
			continue
		}
		logDNSInfo(decoder.Info())
	}
}

func tcpDNSListener(ctx context.Context, addr string) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error().Err(err).Str("addr", addr).Msg("dns tcp: listen failed")
		return
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				continue
			}
		}
		go handleTCPDNSConn(conn)
	}
}

func handleTCPDNSConn(conn net.Conn) {
	defer conn.Close()
	buf := make([]byte, 8192)
	n, err := conn.Read(buf)
	if err != nil {
		return
	}

	decoder := dnslog.NewDnsLog()
	if err := decoder.Parse(buf[:n], dnslog.ProtoTCP, dnslog.DirectionClientToServer); err != nil {
		log.Debug().Err(err).Msg("dns tcp: decode failed")
		return
	}
	logDNSInfo(decoder.Info())
}

func logDNSInfo(info flow.DnsInfo) {
	log.Debug().
		Uint16("trans_id", info.TransID).
		Uint8("query_type", info.QueryType).
		Str("query_name", info.QueryName).
		Str("answers", info.Answers).
		Msg("dns record parsed")
}
