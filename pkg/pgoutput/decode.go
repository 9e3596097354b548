package pgoutput

// Parse dispatches on the payload's leading tag byte and decodes the
// corresponding pgoutput v1 message. It returns an *DecodeError (via errors.As)
// for truncated, malformed, or unsupported payloads.
func Parse(payload []byte) (Message, error) {
	if len(payload) == 0 {
		return nil, newDecodeError(ErrTruncated, 0, "empty payload")
	}

	tag := payload[0]
	r := newReader(payload[1:])

	switch tag {
	case 'B':
		return decodeBegin(r)
	case 'C':
		return decodeCommit(r)
	case 'O':
		return decodeOrigin(r)
	case 'R':
		return decodeRelation(r)
	case 'I':
		return decodeInsert(r)
	case 'U':
		return decodeUpdate(r)
	case 'D':
		return decodeDelete(r)
	case 'T':
		return decodeTruncate(r)
	default:
		return nil, newDecodeError(ErrUnsupported, 0, "unknown message tag %q", tag)
	}
}

func decodeBegin(r *reader) (Message, error) {
	finalLSN, err := r.int64()
	if err != nil {
		return nil, err
	}
	commitTime, err := r.int64()
	if err != nil {
		return nil, err
	}
	xid, err := r.uint32()
	if err != nil {
		return nil, err
	}
	return BeginMessage{FinalLSN: uint64(finalLSN), CommitTime: commitTime, Xid: xid}, nil
}

func decodeCommit(r *reader) (Message, error) {
	flags, err := r.int8()
	if err != nil {
		return nil, err
	}
	commitLSN, err := r.int64()
	if err != nil {
		return nil, err
	}
	endLSN, err := r.int64()
	if err != nil {
		return nil, err
	}
	commitTime, err := r.int64()
	if err != nil {
		return nil, err
	}
	return CommitMessage{
		Flags:      flags,
		CommitLSN:  uint64(commitLSN),
		EndLSN:     uint64(endLSN),
		CommitTime: commitTime,
	}, nil
}

func decodeOrigin(r *reader) (Message, error) {
	commitLSN, err := r.int64()
	if err != nil {
		return nil, err
	}
	name, err := r.string()
	if err != nil {
		return nil, err
	}
	return OriginMessage{CommitLSN: uint64(commitLSN), Name: name}, nil
}

func decodeRelation(r *reader) (Message, error) {
	relationID, err := r.uint32()
	if err != nil {
		return nil, err
	}
	namespace, err := r.string()
	if err != nil {
		return nil, err
	}
	relationName, err := r.string()
	if err != nil {
		return nil, err
	}
	replIdent, err := r.int8()
	if err != nil {
		return nil, err
	}
	ncols, err := r.int16()
	if err != nil {
		return nil, err
	}
	if ncols < 0 {
		return nil, newDecodeError(ErrMalformed, r.off, "negative column count %d", ncols)
	}

	columns := make([]Column, 0, ncols)
	for i := int16(0); i < ncols; i++ {
		flags, err := r.int8()
		if err != nil {
			return nil, err
		}
		name, err := r.string()
		if err != nil {
			return nil, err
		}
		typeID, err := r.uint32()
		if err != nil {
			return nil, err
		}
		typeMod, err := r.int32()
		if err != nil {
			return nil, err
		}
		columns = append(columns, Column{Flags: flags, Name: name, DataType: typeID, TypeMod: typeMod})
	}

	return RelationMessage{
		RelationID:      relationID,
		Namespace:       namespace,
		RelationName:    relationName,
		ReplicaIdentity: ReplicaIdentity(replIdent),
		Columns:         columns,
	}, nil
}

func decodeTupleData(r *reader) (TupleData, error) {
	ncols, err := r.int16()
	if err != nil {
		return TupleData{}, err
	}
	if ncols < 0 {
		return TupleData{}, newDecodeError(ErrMalformed, r.off, "negative tuple column count %d", ncols)
	}

	cells := make([]Cell, 0, ncols)
	for i := int16(0); i < ncols; i++ {
		tag, err := r.uint8()
		if err != nil {
			return TupleData{}, err
		}
		switch tag {
		case 'n':
			cells = append(cells, Cell{Kind: TupleNull})
		case 'u':
			cells = append(cells, Cell{Kind: TupleUnchangedTOAST})
		case 't':
			length, err := r.int32()
			if err != nil {
				return TupleData{}, err
			}
			text, err := r.bytes(int(length))
			if err != nil {
				return TupleData{}, err
			}
			buf := make([]byte, len(text))
			copy(buf, text)
			cells = append(cells, Cell{Kind: TupleText, Text: buf})
		default:
			return TupleData{}, newDecodeError(ErrMalformed, r.off-1, "unknown tuple cell tag %q", tag)
		}
	}
	return TupleData{Columns: cells}, nil
}

func decodeInsert(r *reader) (Message, error) {
	relationID, err := r.uint32()
	if err != nil {
		return nil, err
	}
	kind, err := r.uint8()
	if err != nil {
		return nil, err
	}
	if kind != 'N' {
		return nil, newDecodeError(ErrMalformed, r.off-1, "insert: expected tuple tag 'N', got %q", kind)
	}
	tuple, err := decodeTupleData(r)
	if err != nil {
		return nil, err
	}
	return InsertMessage{RelationID: relationID, New: tuple}, nil
}

func decodeUpdate(r *reader) (Message, error) {
	relationID, err := r.uint32()
	if err != nil {
		return nil, err
	}
	firstTag, err := r.uint8()
	if err != nil {
		return nil, err
	}

	msg := UpdateMessage{RelationID: relationID}

	switch firstTag {
	case 'K', 'O':
		old, err := decodeTupleData(r)
		if err != nil {
			return nil, err
		}
		msg.OldKind = firstTag
		msg.Old = old

		newTag, err := r.uint8()
		if err != nil {
			return nil, err
		}
		if newTag != 'N' {
			return nil, newDecodeError(ErrMalformed, r.off-1, "update: expected new-tuple tag 'N', got %q", newTag)
		}
	case 'N':
		// no old tuple present
	default:
		return nil, newDecodeError(ErrMalformed, r.off-1, "update: unexpected tuple tag %q", firstTag)
	}

	newTuple, err := decodeTupleData(r)
	if err != nil {
		return nil, err
	}
	msg.New = newTuple
	return msg, nil
}

func decodeDelete(r *reader) (Message, error) {
	relationID, err := r.uint32()
	if err != nil {
		return nil, err
	}
	tag, err := r.uint8()
	if err != nil {
		return nil, err
	}
	if tag != 'K' && tag != 'O' {
		return nil, newDecodeError(ErrMalformed, r.off-1, "delete: expected tuple tag 'K' or 'O', got %q", tag)
	}
	old, err := decodeTupleData(r)
	if err != nil {
		return nil, err
	}
	return DeleteMessage{RelationID: relationID, OldKind: tag, Old: old}, nil
}

func decodeTruncate(r *reader) (Message, error) {
	nrelations, err := r.int32()
	if err != nil {
		return nil, err
	}
	if nrelations < 0 {
		return nil, newDecodeError(ErrMalformed, r.off, "negative relation count %d", nrelations)
	}
	options, err := r.int8()
	if err != nil {
		return nil, err
	}
	ids := make([]uint32, 0, nrelations)
	for i := int32(0); i < nrelations; i++ {
		id, err := r.uint32()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return TruncateMessage{Options: TruncateOptions(options), RelationIDs: ids}, nil
}
