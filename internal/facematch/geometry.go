package facematch

// BBoxArea returns the area of an [x1, y1, x2, y2] bounding box, or 0 if it is malformed.
func BBoxArea(bbox []float64) float64 {
	if len(bbox) != 4 {
		return 0
	}
	w := bbox[2] - bbox[0]
	h := bbox[3] - bbox[1]
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}
