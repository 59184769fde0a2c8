// Package protocol implements the SeChat wire protocol for the reliable
// control channel.
//
// Every control message is a frame: a 10-byte ASCII header holding the
// payload length as a zero-padded decimal number, followed by exactly that
// many bytes of JSON. The JSON document always carries a "type" field that
// selects the operation; the remaining fields depend on the type.
//
// # Frame Format
//
//	+------------+---------------------------+
//	| 0000000042 | {"type":"private", ... }  |
//	+------------+---------------------------+
//	  10 bytes     <length> bytes of JSON
//
// The codec never assumes read-boundary alignment: a single TCP read may
// contain several frames, or a frame may arrive split across many reads.
// FrameReader buffers and suspends as needed.
//
// # Message Types
//
// Client to server: signup, login, logout, private, file, voice_msg,
// req_history, call, call_accept, call_reject, call_end, group_create,
// group_join, group_leave, group_msg, group_file, group_call,
// group_call_accept, group_voice_msg, group_add_user.
//
// Server to client: auth_result, private, file, voice_msg, history, list,
// all_groups_list, my_groups_list, group_msg, group_file, group_voice_msg,
// text, error.
//
// Real-time audio and video never travel through this protocol; they are
// raw datagrams on the media ports, routed by the relay's binding table.
package protocol
