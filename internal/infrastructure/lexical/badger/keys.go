package badger

// Key layout:
//
//	seg:<segment_id>                 -> segmentEntry (JSON)
//	post:<term>\x00<segment_id>      -> term frequency (uint32, big endian)
//	docseg:<doc_id>\x00<segment_id>  -> empty
//	stats                            -> corpusStats (JSON)
const (
	segmentPrefix = "seg:"
	postingPrefix = "post:"
	docSegPrefix  = "docseg:"
	statsKey      = "stats"
	keySeparator  = "\x00"
)

func segmentKey(segmentID string) []byte {
	return []byte(segmentPrefix + segmentID)
}

func postingKey(term, segmentID string) []byte {
	return []byte(postingPrefix + term + keySeparator + segmentID)
}

func postingTermPrefix(term string) []byte {
	return []byte(postingPrefix + term + keySeparator)
}

func docSegKey(documentID, segmentID string) []byte {
	return []byte(docSegPrefix + documentID + keySeparator + segmentID)
}

func docSegDocPrefix(documentID string) []byte {
	return []byte(docSegPrefix + documentID + keySeparator)
}
