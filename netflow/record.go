package netflow

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
)

// recordingSource copies every buffer it reads into a pcap file, which can be
// fed back later through ReplayOpener.
type recordingSource struct {
	Source
	file   *os.File
	writer *pcapgo.Writer
}

// recordSource falls back to src alone when the file cannot be created.
func recordSource(src Source, dir, name string, snaplen int32) (Source, error) {
	f, err := os.Create(filepath.Join(dir, name+".pcap"))
	if err != nil {
		return src, fmt.Errorf("create pcap file: %w", err)
	}

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(uint32(snaplen), src.LinkType()); err != nil {
		f.Close()
		return src, fmt.Errorf("write pcap header: %w", err)
	}
	return &recordingSource{Source: src, file: f, writer: w}, nil
}

func (s *recordingSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := s.Source.ReadPacketData()
	if err == nil {
		// a failed write only costs the recording
		_ = s.writer.WritePacket(ci, data)
	}
	return data, ci, err
}

func (s *recordingSource) Close() {
	s.Source.Close()
	s.file.Close()
}
