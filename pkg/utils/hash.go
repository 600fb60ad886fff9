package utils

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return hex.EncodeToString(hash[:])
}

// HashParts hashes parts with length prefixes so ("ab","c") and ("a","bc") differ.
func HashParts(parts ...string) string {
	h := md5.New()
	for _, p := range parts {
		h.Write([]byte(strconv.Itoa(len(p))))
		h.Write([]byte{':'})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
