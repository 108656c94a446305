package bep

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"

	"bazelbsp/internal/pbwire"
)

// Field numbers of build_event_stream.BuildEvent.
const (
	fieldEventID          = 1
	fieldProgress         = 3
	fieldAborted          = 4
	fieldStarted          = 5
	fieldAction           = 7
	fieldCompleted        = 8
	fieldFinished         = 14
	fieldNamedSetOfFiles  = 15
	fieldLastMessage      = 20
	idFieldProgress       = 2
	idFieldTargetComplete = 6
	idFieldActionComplete = 7
	idFieldNamedSet       = 13
	idFieldConfigured     = 16
)

// Decode parses one build_event_stream.BuildEvent message.
func Decode(b []byte) (BuildEvent, error) {
	var ev BuildEvent
	err := pbwire.Walk(b, func(f pbwire.Field) error {
		var err error
		switch f.Num {
		case fieldEventID:
			ev.ID, err = decodeEventID(f.Bytes)
		case fieldLastMessage:
			ev.LastMessage = f.Bool()
		case fieldProgress:
			ev.Payload, err = decodeProgress(f.Bytes)
		case fieldAborted:
			ev.Payload, err = decodeAborted(f.Bytes)
		case fieldStarted:
			ev.Payload, err = decodeStarted(f.Bytes)
		case fieldAction:
			ev.Payload, err = decodeAction(f.Bytes)
		case fieldCompleted:
			ev.Payload, err = decodeCompleted(f.Bytes)
		case fieldFinished:
			ev.Payload, err = decodeFinished(f.Bytes)
		case fieldNamedSetOfFiles:
			ev.Payload, err = decodeNamedSet(f.Bytes)
		}
		return err
	})
	if err != nil {
		return BuildEvent{}, fmt.Errorf("decode build event: %w", err)
	}

	// Several payloads carry their identity only in the event id.
	switch p := ev.Payload.(type) {
	case *TargetCompleted:
		p.Label, p.Aspect = ev.ID.Label, ev.ID.Aspect
	case *ActionExecuted:
		if ev.ID.Label != "" {
			p.Label = ev.ID.Label
		}
	case *Aborted:
		p.Label = ev.ID.Label
	}
	return ev, nil
}

func decodeEventID(b []byte) (EventID, error) {
	var id EventID
	err := pbwire.Walk(b, func(f pbwire.Field) error {
		switch f.Num {
		case idFieldProgress:
			return pbwire.Walk(f.Bytes, func(g pbwire.Field) error {
				if g.Num == 1 {
					id.ProgressCount = g.Int32()
				}
				return nil
			})
		case idFieldNamedSet:
			return pbwire.Walk(f.Bytes, func(g pbwire.Field) error {
				if g.Num == 1 {
					id.NamedSet = g.String()
				}
				return nil
			})
		case idFieldTargetComplete, idFieldConfigured:
			return pbwire.Walk(f.Bytes, func(g pbwire.Field) error {
				switch g.Num {
				case 1:
					id.Label = g.String()
				case 2:
					id.Aspect = g.String()
				}
				return nil
			})
		case idFieldActionComplete:
			return pbwire.Walk(f.Bytes, func(g pbwire.Field) error {
				switch g.Num {
				case 1:
					id.PrimaryOutput = g.String()
				case 2:
					id.Label = g.String()
				}
				return nil
			})
		}
		return nil
	})
	return id, err
}

func decodeProgress(b []byte) (*Progress, error) {
	p := &Progress{}
	err := pbwire.Walk(b, func(f pbwire.Field) error {
		switch f.Num {
		case 1:
			p.Stdout = f.String()
		case 2:
			p.Stderr = f.String()
		}
		return nil
	})
	return p, err
}

func decodeAborted(b []byte) (*Aborted, error) {
	a := &Aborted{}
	err := pbwire.Walk(b, func(f pbwire.Field) error {
		switch f.Num {
		case 1:
			a.Reason = AbortReason(f.Int32())
		case 2:
			a.Description = f.String()
		}
		return nil
	})
	return a, err
}

func decodeStarted(b []byte) (*Started, error) {
	s := &Started{}
	var startMillis int64
	err := pbwire.Walk(b, func(f pbwire.Field) error {
		var err error
		switch f.Num {
		case 1:
			s.UUID = f.String()
		case 2:
			startMillis = f.Int64()
		case 3:
			s.BuildToolVersion = f.String()
		case 5:
			s.Command = f.String()
		case 6:
			s.WorkingDirectory = f.String()
		case 7:
			s.WorkspaceDirectory = f.String()
		case 9:
			s.StartTime, err = decodeTimestamp(f.Bytes)
		}
		return err
	})
	if s.StartTime.IsZero() && startMillis != 0 {
		s.StartTime = time.UnixMilli(startMillis)
	}
	return s, err
}

func decodeNamedSet(b []byte) (*NamedSetOfFiles, error) {
	n := &NamedSetOfFiles{}
	err := pbwire.Walk(b, func(f pbwire.Field) error {
		switch f.Num {
		case 1:
			file, err := decodeFile(f.Bytes)
			if err != nil {
				return err
			}
			n.Files = append(n.Files, file)
		case 2:
			id, err := decodeNamedSetID(f.Bytes)
			if err != nil {
				return err
			}
			n.FileSets = append(n.FileSets, id)
		}
		return nil
	})
	return n, err
}

func decodeCompleted(b []byte) (*TargetCompleted, error) {
	c := &TargetCompleted{}
	err := pbwire.Walk(b, func(f pbwire.Field) error {
		switch f.Num {
		case 1:
			c.Success = f.Bool()
		case 2:
			g, err := decodeOutputGroup(f.Bytes)
			if err != nil {
				return err
			}
			c.OutputGroups = append(c.OutputGroups, g)
		case 3:
			c.Tags = append(c.Tags, f.String())
		}
		return nil
	})
	return c, err
}

func decodeOutputGroup(b []byte) (OutputGroup, error) {
	var g OutputGroup
	err := pbwire.Walk(b, func(f pbwire.Field) error {
		switch f.Num {
		case 1:
			g.Name = f.String()
		case 3:
			id, err := decodeNamedSetID(f.Bytes)
			if err != nil {
				return err
			}
			g.FileSets = append(g.FileSets, id)
		case 4:
			g.Incomplete = f.Bool()
		case 5:
			file, err := decodeFile(f.Bytes)
			if err != nil {
				return err
			}
			g.InlineFiles = append(g.InlineFiles, file)
		}
		return nil
	})
	return g, err
}

func decodeAction(b []byte) (*ActionExecuted, error) {
	a := &ActionExecuted{}
	err := pbwire.Walk(b, func(f pbwire.Field) error {
		switch f.Num {
		case 1:
			a.Success = f.Bool()
		case 2:
			a.ExitCode = f.Int32()
		case 3, 4, 6:
			file, err := decodeFile(f.Bytes)
			if err != nil {
				return err
			}
			switch f.Num {
			case 3:
				a.Stdout = &file
			case 4:
				a.Stderr = &file
			default:
				a.PrimaryOutput = &file
			}
		case 5:
			a.Label = f.String()
		case 8:
			a.Type = f.String()
		case 9:
			a.CommandLine = append(a.CommandLine, f.String())
		case 10:
			file, err := decodeFile(f.Bytes)
			if err != nil {
				return err
			}
			a.ActionMetadataLogs = append(a.ActionMetadataLogs, file)
		}
		return nil
	})
	return a, err
}

func decodeFinished(b []byte) (*Finished, error) {
	fin := &Finished{}
	var finishMillis int64
	err := pbwire.Walk(b, func(f pbwire.Field) error {
		var err error
		switch f.Num {
		case 2:
			finishMillis = f.Int64()
		case 3:
			err = pbwire.Walk(f.Bytes, func(g pbwire.Field) error {
				switch g.Num {
				case 1:
					fin.ExitCodeName = g.String()
				case 2:
					fin.ExitCode = g.Int32()
				}
				return nil
			})
		case 5:
			fin.FinishTime, err = decodeTimestamp(f.Bytes)
		}
		return err
	})
	if fin.FinishTime.IsZero() && finishMillis != 0 {
		fin.FinishTime = time.UnixMilli(finishMillis)
	}
	return fin, err
}

func decodeFile(b []byte) (File, error) {
	var file File
	err := pbwire.Walk(b, func(f pbwire.Field) error {
		switch f.Num {
		case 1:
			file.Name = f.String()
		case 2:
			file.URI = f.String()
		case 4:
			file.PathPrefix = append(file.PathPrefix, f.String())
		}
		return nil
	})
	return file, err
}

func decodeNamedSetID(b []byte) (string, error) {
	var id string
	err := pbwire.Walk(b, func(f pbwire.Field) error {
		if f.Num == 1 {
			id = f.String()
		}
		return nil
	})
	return id, err
}

func decodeTimestamp(b []byte) (time.Time, error) {
	var ts timestamppb.Timestamp
	if err := proto.Unmarshal(b, &ts); err != nil {
		return time.Time{}, err
	}
	return ts.AsTime(), nil
}
