package wire

import (
	"encoding/json"
	"fmt"
)

// Message type tags. One tag per union member, shared by encode and decode.
const (
	TypeJoin            = "join"
	TypeOperation       = "operation"
	TypeCursorUpdate    = "cursor_update"
	TypeLeave           = "leave"
	TypeSyncPush        = "sync_push"
	TypeSyncAck         = "sync_ack"
	TypeSessionState    = "session_state"
	TypeOperationAck    = "operation_ack"
	TypeOperationBcast  = "operation_broadcast"
	TypeParticipantJoin = "participant_joined"
	TypeParticipantLeft = "participant_left"
	TypeCursorBcast     = "cursor_broadcast"
	TypeSyncItemAck     = "sync_item_ack"
	TypeSyncItemPush    = "sync_item_push"
	TypeError           = "error"
)

func tagOf(msg any) (string, error) {
	switch msg.(type) {
	case Join:
		return TypeJoin, nil
	case SubmitOperation:
		return TypeOperation, nil
	case CursorUpdate:
		return TypeCursorUpdate, nil
	case Leave:
		return TypeLeave, nil
	case SyncPush:
		return TypeSyncPush, nil
	case SyncAck:
		return TypeSyncAck, nil
	case SessionState:
		return TypeSessionState, nil
	case OperationAck:
		return TypeOperationAck, nil
	case OperationBroadcast:
		return TypeOperationBcast, nil
	case ParticipantJoined:
		return TypeParticipantJoin, nil
	case ParticipantLeft:
		return TypeParticipantLeft, nil
	case CursorBroadcast:
		return TypeCursorBcast, nil
	case SyncItemAck:
		return TypeSyncItemAck, nil
	case SyncItemPush:
		return TypeSyncItemPush, nil
	case Error:
		return TypeError, nil
	}
	return "", fmt.Errorf("wire: no tag for %T", msg)
}

func encode(msg any) ([]byte, error) {
	tag, err := tagOf(msg)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal %s payload: %w", tag, err)
	}
	return json.Marshal(Envelope{Type: tag, Payload: payload})
}

// EncodeClient frames a client message for the socket.
func EncodeClient(msg ClientMessage) ([]byte, error) { return encode(msg) }

// EncodeServer frames a server message for the socket.
func EncodeServer(msg ServerMessage) ([]byte, error) { return encode(msg) }

func decodeClientPayload[T ClientMessage](env Envelope) (ClientMessage, error) {
	var msg T
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		return nil, fmt.Errorf("wire: decode %s payload: %w", env.Type, err)
	}
	return msg, nil
}

func decodeServerPayload[T ServerMessage](env Envelope) (ServerMessage, error) {
	var msg T
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		return nil, fmt.Errorf("wire: decode %s payload: %w", env.Type, err)
	}
	return msg, nil
}

// DecodeClient parses a frame received by the server. Unknown types are an
// error so protocol drift fails loudly instead of being dropped.
func DecodeClient(data []byte) (ClientMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("wire: decode envelope: %w", err)
	}
	switch env.Type {
	case TypeJoin:
		return decodeClientPayload[Join](env)
	case TypeOperation:
		return decodeClientPayload[SubmitOperation](env)
	case TypeCursorUpdate:
		return decodeClientPayload[CursorUpdate](env)
	case TypeLeave:
		return decodeClientPayload[Leave](env)
	case TypeSyncPush:
		return decodeClientPayload[SyncPush](env)
	case TypeSyncAck:
		return decodeClientPayload[SyncAck](env)
	}
	return nil, fmt.Errorf("wire: unknown client message type %q", env.Type)
}

// DecodeServer parses a frame received by a client.
func DecodeServer(data []byte) (ServerMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("wire: decode envelope: %w", err)
	}
	switch env.Type {
	case TypeSessionState:
		return decodeServerPayload[SessionState](env)
	case TypeOperationAck:
		return decodeServerPayload[OperationAck](env)
	case TypeOperationBcast:
		return decodeServerPayload[OperationBroadcast](env)
	case TypeParticipantJoin:
		return decodeServerPayload[ParticipantJoined](env)
	case TypeParticipantLeft:
		return decodeServerPayload[ParticipantLeft](env)
	case TypeCursorBcast:
		return decodeServerPayload[CursorBroadcast](env)
	case TypeSyncItemAck:
		return decodeServerPayload[SyncItemAck](env)
	case TypeSyncItemPush:
		return decodeServerPayload[SyncItemPush](env)
	case TypeError:
		return decodeServerPayload[Error](env)
	}
	return nil, fmt.Errorf("wire: unknown server message type %q", env.Type)
}
