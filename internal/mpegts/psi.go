package mpegts

import (
	"encoding/binary"
	"fmt"
)

const (
	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

// splitSections walks a reassembled PSI payload (starting with the pointer
// field) and returns each complete section, CRC included.
func splitSections(payload []byte) ([][]byte, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("mpegts: PSI payload too short")
	}
	offset := 1 + int(payload[0])
	if offset >= len(payload) {
		return nil, fmt.Errorf("mpegts: PSI pointer field out of range")
	}

	var sections [][]byte
	for offset+3 <= len(payload) {
		if payload[offset] == 0xFF {
			break // stuffing
		}
		// section_syntax_indicator is set on every PAT/PMT; a clear bit
		// here means zero padding.
		if payload[offset+1]&0x80 == 0 {
			break
		}
		sectionLength := int(payload[offset+1]&0x0F)<<8 | int(payload[offset+2])
		end := offset + 3 + sectionLength
		if end > len(payload) {
			break
		}
		sections = append(sections, payload[offset:end])
		offset = end
	}
	return sections, nil
}

// parsePAT decodes a PAT section. Program 0 (the NIT) is skipped.
//
// Layout: table_id(1) | flags+section_length(2) | transport_stream_id(2) |
// version(1) | section_number(1) | last_section_number(1) | entries(4n) | CRC(4)
func parsePAT(section []byte) ([]Program, error) {
	if len(section) < 12 {
		return nil, fmt.Errorf("mpegts: PAT too short")
	}
	if section[0] != tableIDPAT {
		return nil, fmt.Errorf("mpegts: table id 0x%02X is not a PAT", section[0])
	}
	if err := verifyCRC32(section); err != nil {
		return nil, fmt.Errorf("mpegts: PAT %w", err)
	}

	var programs []Program
	for i := 8; i+4 <= len(section)-4; i += 4 {
		number := binary.BigEndian.Uint16(section[i:])
		pid := uint16(section[i+2]&0x1F)<<8 | uint16(section[i+3])
		if number == 0 {
			continue
		}
		programs = append(programs, Program{Number: number, PMTPID: pid})
	}
	return programs, nil
}

// parsePMT decodes a PMT section.
//
// Layout: table_id(1) | flags+section_length(2) | program_number(2) |
// version(1) | section_number(1) | last_section_number(1) | PCR_PID(2) |
// program_info_length(2) | descriptors | ES entries | CRC(4)
func parsePMT(section []byte) (*ProgramMap, error) {
	if len(section) < 16 {
		return nil, fmt.Errorf("mpegts: PMT too short")
	}
	if section[0] != tableIDPMT {
		return nil, fmt.Errorf("mpegts: table id 0x%02X is not a PMT", section[0])
	}
	if err := verifyCRC32(section); err != nil {
		return nil, fmt.Errorf("mpegts: PMT %w", err)
	}

	pm := &ProgramMap{
		ProgramNumber: binary.BigEndian.Uint16(section[3:]),
		PCRPID:        uint16(section[8]&0x1F)<<8 | uint16(section[9]),
	}
	programInfoLength := int(section[10]&0x0F)<<8 | int(section[11])
	end := len(section) - 4
	for offset := 12 + programInfoLength; offset+5 <= end; {
		esInfoLength := int(section[offset+3]&0x0F)<<8 | int(section[offset+4])
		pm.Streams = append(pm.Streams, ElementaryStream{
			StreamType: section[offset],
			PID:        uint16(section[offset+1]&0x1F)<<8 | uint16(section[offset+2]),
		})
		offset += 5 + esInfoLength
	}
	return pm, nil
}

// buildPAT encodes a PAT section with its CRC.
func buildPAT(tsID uint16, programs []Program) []byte {
	sectionLength := 5 + 4*len(programs) + 4
	b := make([]byte, 0, 3+sectionLength)
	b = append(b,
		tableIDPAT,
		0xB0|byte(sectionLength>>8)&0x0F,
		byte(sectionLength),
		byte(tsID>>8), byte(tsID),
		0xC1, // version 0, current_next 1
		0x00, 0x00,
	)
	for _, p := range programs {
		b = append(b,
			byte(p.Number>>8), byte(p.Number),
			0xE0|byte(p.PMTPID>>8)&0x1F, byte(p.PMTPID),
		)
	}
	return binary.BigEndian.AppendUint32(b, computeCRC32(b))
}

// buildPMT encodes a PMT section with its CRC. Elementary streams carry no
// descriptors.
func buildPMT(pm *ProgramMap) []byte {
	sectionLength := 9 + 5*len(pm.Streams) + 4
	b := make([]byte, 0, 3+sectionLength)
	b = append(b,
		tableIDPMT,
		0xB0|byte(sectionLength>>8)&0x0F,
		byte(sectionLength),
		byte(pm.ProgramNumber>>8), byte(pm.ProgramNumber),
		0xC1,
		0x00, 0x00,
		0xE0|byte(pm.PCRPID>>8)&0x1F, byte(pm.PCRPID),
		0xF0, 0x00, // program_info_length 0
	)
	for _, es := range pm.Streams {
		b = append(b,
			es.StreamType,
			0xE0|byte(es.PID>>8)&0x1F, byte(es.PID),
			0xF0, 0x00,
		)
	}
	return binary.BigEndian.AppendUint32(b, computeCRC32(b))
}
