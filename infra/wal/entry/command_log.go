package entry

import (
	"fmt"

	"matchcore/command"
)

// CommandLog stores admitted commands, one record per command id.
type CommandLog struct {
	wal *WAL
}

func NewCommandLog(w *WAL) *CommandLog {
	return &CommandLog{wal: w}
}

func (l *CommandLog) Append(c command.Command) error {
	b, err := command.Encode(c)
	if err != nil {
		return fmt.Errorf("encode command %d: %w", c.ID, err)
	}
	return l.wal.Append(&Record{
		Type: RecordCommand,
		Seq:  c.ID,
		Time: c.Timestamp,
		Data: b,
	})
}

// ReadFrom replays commands with id >= from in id order.
func (l *CommandLog) ReadFrom(from uint64, fn func(command.Command) error) error {
	return l.wal.ReadFrom(from, func(r *Record) error {
		if r.Type != RecordCommand {
			return nil
		}
		c, err := command.Decode(r.Data)
		if err != nil {
			return fmt.Errorf("decode command %d: %w", r.Seq, err)
		}
		return fn(c)
	})
}

func (l *CommandLog) LastID() uint64 { return l.wal.LastSeq() }

// TruncateBefore drops whole segments already covered by a snapshot.
func (l *CommandLog) TruncateBefore(id uint64) (int, error) {
	return l.wal.TruncateBefore(id)
}

// TruncatedThrough is the highest command id the log may no longer hold.
func (l *CommandLog) TruncatedThrough() uint64 { return l.wal.TruncatedThrough() }

func (l *CommandLog) Close() error { return l.wal.Close() }
