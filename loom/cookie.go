package loom

// CookieMode selects how a backend persistence cookie's value is laid
// out on the wire.
type CookieMode int

const (
	CookieModeNone CookieMode = iota
	CookieModePrefix
	CookieModePassive
	CookieModeInsert
	CookieModeRewrite
)

// CookieConfig names the frontend capture and backend persistence cookie
// this pass looks for; it is shared read-only across every transaction on
// a listener.
type CookieConfig struct {
	CaptureName    string
	PersistName    string
	Mode           CookieMode
	InsertIndirect bool
	MaxLife        int64 // seconds; 0 = unlimited
	MaxIdle        int64 // seconds; 0 = unlimited
}

// CookieResult carries what the request-side pass learned, for the rule
// engine and the connection's server-selection logic to consume.
type CookieResult struct {
	Invalid         bool // CK_INVALID: a persistence cookie pointed at no known server
	Captured        string
	CapturedSeen    bool
	ServerID        string
	LastSeen        int64
	FirstSeen       int64
	PreserveHeader  bool
	DeleteScheduled bool
}

const dateAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// encodeCookieDate quantizes unixSeconds to 4-second resolution and packs
// it into a 5-character, 30-bit base64-like field, matching the wire
// format the passive/insert/rewrite persistence modes read back.
func encodeCookieDate(unixSeconds int64) string {
	q := (unixSeconds / 4) & 0x3fffffff
	var out [5]byte
	for i := 4; i >= 0; i-- {
		out[i] = dateAlphabet[q&0x3f]
		q >>= 6
	}
	return string(out[:])
}

func decodeCookieDate(s string) (int64, bool) {
	if len(s) != 5 {
		return 0, false
	}
	var v int64
	for i := 0; i < 5; i++ {
		idx := int64(-1)
		for j := 0; j < len(dateAlphabet); j++ {
			if dateAlphabet[j] == s[i] {
				idx = int64(j)
				break
			}
		}
		if idx < 0 {
			return 0, false
		}
		v = v<<6 | idx
	}
	return v * 4, true
}

// cookiePair names one name=value slot within a Cookie header's value,
// bounds given as offsets into the owning RingBuffer. pairEnd includes the
// trailing "; " separator (or the line end) so deleting [start, pairEnd)
// removes the pair cleanly.
type cookiePair struct {
	start, nameEnd, valOff, valEnd, pairEnd int32
}

func scanCookiePairs(buf *RingBuffer, start, end int32) []cookiePair {
	var pairs []cookiePair
	pos := start
	for pos < end {
		for pos < end {
			b, _ := buf.ReadAt(int(pos))
			if b != ' ' && b != '\t' {
				break
			}
			pos++
		}
		if pos >= end {
			break
		}
		pairStart := pos
		eq := int32(-1)
		for pos < end {
			b, _ := buf.ReadAt(int(pos))
			if b == ';' {
				break
			}
			if b == '=' && eq < 0 {
				eq = pos
			}
			pos++
		}
		nameEnd := eq
		valOff := eq + 1
		if eq < 0 {
			nameEnd = pos
			valOff = pos
		}
		valEnd := pos
		for valEnd > valOff {
			b, _ := buf.ReadAt(int(valEnd - 1))
			if b != ' ' && b != '\t' {
				break
			}
			valEnd--
		}
		pairEnd := pos
		if pairEnd < end {
			pairEnd++ // consume the ';'
			for pairEnd < end {
				b, _ := buf.ReadAt(int(pairEnd))
				if b != ' ' {
					break
				}
				pairEnd++
			}
		}
		pairs = append(pairs, cookiePair{start: pairStart, nameEnd: nameEnd, valOff: valOff, valEnd: valEnd, pairEnd: pairEnd})
		pos = pairEnd
	}
	return pairs
}

func readRange(buf *RingBuffer, from, to int32) string {
	out := make([]byte, 0, to-from)
	for pos := from; pos < to; pos++ {
		b, _ := buf.ReadAt(int(pos))
		out = append(out, b)
	}
	return string(out)
}

// ProcessRequestCookies walks every Cookie header line, applying
// request-side rules, and returns the accumulated
// displacement so the caller can correct eoh and any offsets past eoh.
func ProcessRequestCookies(buf *RingBuffer, idx *HeaderIndex, cfg *CookieConfig, now int64) (*CookieResult, int, error) {
	res := &CookieResult{}
	totalDelta := 0

	ctx, ok := idx.Find(buf, []byte("Cookie"), nil)
	for ok {
		lineDelta := 0
		pairs := scanCookiePairs(buf, ctx.ValueOffset(), ctx.ValueOffset()+ctx.ValueLen())
		toDelete := make([]bool, len(pairs))
		anyKept := false

		for i, pr := range pairs {
			name := readRange(buf, pr.start, pr.nameEnd)
			if len(name) > 0 && name[0] == '$' {
				continue
			}
			anyKept = true
			if cfg.CaptureName != "" && !res.CapturedSeen && name == cfg.CaptureName {
				res.Captured = readRange(buf, pr.valOff, pr.valEnd)
				res.CapturedSeen = true
			}
			if cfg.PersistName == "" || name != cfg.PersistName {
				continue
			}
			value := readRange(buf, pr.valOff, pr.valEnd)
			switch cfg.Mode {
			case CookieModePrefix:
				if tilde := indexByte(value, '~'); tilde >= 0 {
					res.ServerID = value[:tilde]
					// strip "SERVERID~" in place, leaving the app's opaque value
					delta, err := buf.Delete(int(pr.valOff), int(pr.valOff)+tilde+1)
					if err != nil {
						return res, totalDelta, err
					}
					totalDelta += delta
					lineDelta += delta
					pairs, toDelete = shiftPairsAfter(pairs, toDelete, i, pr.valOff+int32(tilde)+1, int32(delta))
				} else {
					res.Invalid = true
				}
			case CookieModePassive, CookieModeInsert, CookieModeRewrite:
				fields := splitBar(value)
				res.ServerID = fields[0]
				lastOK, firstOK := false, false
				if len(fields) > 1 {
					if seen, ok := decodeCookieDate(fields[1]); ok {
						res.LastSeen, lastOK = seen, true
					}
				}
				if len(fields) > 2 {
					if seen, ok := decodeCookieDate(fields[2]); ok {
						res.FirstSeen, firstOK = seen, true
					}
				}
				if cfg.MaxIdle > 0 && lastOK && now-res.LastSeen > cfg.MaxIdle {
					res.ServerID, res.LastSeen, res.FirstSeen = "", 0, 0
				}
				if cfg.MaxLife > 0 && firstOK && now-res.FirstSeen > cfg.MaxLife {
					res.ServerID, res.LastSeen, res.FirstSeen = "", 0, 0
				}
				if res.FirstSeen > now+86400 || res.LastSeen > now+86400 {
					res.Invalid = true
				}
				if res.ServerID != "" && cfg.Mode == CookieModeInsert && cfg.InsertIndirect {
					toDelete[i] = true
					res.DeleteScheduled = true
				}
			}
			if res.ServerID == "" && !res.Invalid {
				res.Invalid = true
			}
		}

		if !anyKept {
			res.PreserveHeader = false
		} else {
			res.PreserveHeader = true
		}

		valueEnd := ctx.ValueOffset() + ctx.ValueLen() + int32(lineDelta)
		for i := len(pairs) - 1; i >= 0; i-- {
			if !toDelete[i] {
				continue
			}
			from, to := pairs[i].start, pairs[i].pairEnd
			if to > valueEnd {
				to = valueEnd
			}
			if to == valueEnd && i > 0 {
				// last pair left on the line: remove the separator before it
				from = pairs[i-1].valEnd
			}
			delta, err := buf.Delete(int(from), int(to))
			if err != nil {
				return res, totalDelta, err
			}
			totalDelta += delta
			lineDelta += delta
			valueEnd += int32(delta)
		}

		idx.entries[ctx.idx].len += int32(lineDelta)
		ctx.lineEnd += int32(lineDelta)
		ctx, ok = idx.Find(buf, []byte("Cookie"), ctx)
	}
	return res, totalDelta, nil
}

// shiftPairsAfter adjusts the bounds of every pair after index i by delta,
// since an in-place edit inside pair i displaces everything following it
// on the same line.
func shiftPairsAfter(pairs []cookiePair, toDelete []bool, i int, editPoint, delta int32) ([]cookiePair, []bool) {
	for k := i + 1; k < len(pairs); k++ {
		if pairs[k].start >= editPoint {
			pairs[k].start += delta
			pairs[k].nameEnd += delta
			pairs[k].valOff += delta
			pairs[k].valEnd += delta
			pairs[k].pairEnd += delta
		}
	}
	return pairs, toDelete
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

func splitBar(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '|' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// RewriteResponseCookie applies the response-side persistence rewrite for
// a single Set-Cookie/Set-Cookie2 value already located by the caller via
// HeaderIndex.Find/IterateValue: in rewrite/insert mode the value becomes
// "serverID|lastSeen[|firstSeen]"; in prefix mode it becomes
// "serverID~originalValue". It returns the displacement.
func RewriteResponseCookie(buf *RingBuffer, ctx *HeaderContext, mode CookieMode, serverID string, now int64, keepFirstSeen int64) (int, error) {
	original := readRange(buf, ctx.ValueOffset(), ctx.ValueOffset()+ctx.ValueLen())
	var rewritten string
	switch mode {
	case CookieModePrefix:
		rewritten = serverID + "~" + original
	case CookieModeInsert, CookieModeRewrite:
		if keepFirstSeen != 0 {
			rewritten = serverID + "|" + encodeCookieDate(now) + "|" + encodeCookieDate(keepFirstSeen)
		} else {
			rewritten = serverID + "|" + encodeCookieDate(now)
		}
	default:
		return 0, nil
	}
	return buf.Replace(int(ctx.ValueOffset()), int(ctx.ValueOffset()+ctx.ValueLen()), []byte(rewritten))
}
