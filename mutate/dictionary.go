package mutate

import "math/rand"

// Dictionary is a flat token list used by the dictionary stage to
// insert or overwrite at random offsets, per spec.md §4.2.3.
type Dictionary [][]byte

// Built-in protocol dictionaries, grounded on
// original_source/examples/targets/{http_server,dns_server,custom_protocol}.py
// and the vulnerable parsers they exercise (HTTP verbs/headers, DNS
// type codes + compression pointer, SMTP verbs/termination).
var (
	HTTPDictionary = Dictionary{
		[]byte("GET"), []byte("POST"), []byte("PUT"), []byte("DELETE"),
		[]byte("HEAD"), []byte("OPTIONS"), []byte("PATCH"), []byte("CONNECT"), []byte("TRACE"),
		[]byte("HTTP/1.0"), []byte("HTTP/1.1"), []byte("HTTP/2.0"),
		[]byte("Content-Length"), []byte("Content-Type"), []byte("Transfer-Encoding"),
		[]byte("Host"), []byte("Connection"), []byte("Cookie"), []byte("Authorization"),
		[]byte("\r\n"), []byte("\r\n\r\n"), []byte("chunked"),
	}

	DNSDictionary = Dictionary{
		{0x00, 0x01}, // A
		{0x00, 0x02}, // NS
		{0x00, 0x05}, // CNAME
		{0x00, 0x0F}, // MX
		{0x00, 0x10}, // TXT
		{0x00, 0x1C}, // AAAA
		{0x00, 0xFF}, // ANY
		{0xC0},       // compression pointer prefix
		{0xC0, 0x0C}, // pointer to offset 12
	}

	SMTPDictionary = Dictionary{
		[]byte("HELO"), []byte("EHLO"), []byte("MAIL FROM:"), []byte("RCPT TO:"),
		[]byte("DATA"), []byte("RSET"), []byte("NOOP"), []byte("QUIT"), []byte("VRFY"),
		[]byte("\r\n"), []byte("\r\n.\r\n"),
	}

	// GenericDictionary holds classic injection payloads, used whenever
	// no protocol-specific dictionary is configured.
	GenericDictionary = Dictionary{
		[]byte("' OR '1'='1"), []byte("'; DROP TABLE users; --"),
		[]byte("$(reboot)"), []byte("; cat /etc/passwd"), []byte("`id`"),
		[]byte("%n%n%n%n"), []byte("%s%s%s%s"),
		[]byte("../../../../etc/passwd"),
		[]byte("<script>alert(1)</script>"),
	}
)

// dictionaryMutate inserts or overwrites at a random offset with a
// random token from dict.
func dictionaryMutate(input []byte, dict Dictionary, rng *rand.Rand) []byte {
	if len(dict) == 0 {
		return append([]byte(nil), input...)
	}
	token := dict[rng.Intn(len(dict))]

	if len(input) == 0 || rng.Intn(2) == 0 {
		// Insert.
		at := 0
		if len(input) > 0 {
			at = rng.Intn(len(input) + 1)
		}
		out := make([]byte, 0, len(input)+len(token))
		out = append(out, input[:at]...)
		out = append(out, token...)
		out = append(out, input[at:]...)
		return out
	}

	// Overwrite, clamped to the input's length.
	out := append([]byte(nil), input...)
	at := rng.Intn(len(out))
	end := at + len(token)
	if end > len(out) {
		end = len(out)
	}
	copy(out[at:end], token[:end-at])
	return out
}
