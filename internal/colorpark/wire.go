package colorpark

// The request shapes below follow the vendor's API exactly, including the
// fields it expects to see as null and the snake_case keys. Pointer fields
// marshal as null when unset.

type workComponent struct {
	IsUnder     int     `json:"is_under"`
	IsDiscount  int     `json:"is_discount"`
	ID          *int64  `json:"id"`
	Type        int     `json:"type"`
	MaterialID  int     `json:"material_id"`
	WorksID     *int64  `json:"works_id"`
	OriginalID  int     `json:"original_id"`
	Index       int     `json:"index"`
	FontFamily  string  `json:"font_family"`
	FontStyle   string  `json:"font_style"`
	FontSize    int     `json:"font_size"`
	FontColor   string  `json:"font_color"`
	UnderColor  string  `json:"under_color"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	Top         float64 `json:"top"`
	Left        float64 `json:"left"`
	Zoom        float64 `json:"zoom"`
	Rotate      float64 `json:"rotate"`
	Content     string  `json:"content"`
	UpperLeftX  float64 `json:"upper_left_x"`
	UpperLeftY  float64 `json:"upper_left_y"`
	UpperRightX float64 `json:"upper_right_x"`
	UpperRightY float64 `json:"upper_right_y"`
	LowerLeftX  float64 `json:"lower_left_x"`
	LowerLeftY  float64 `json:"lower_left_y"`
	LowerRightX float64 `json:"lower_right_x"`
	LowerRightY float64 `json:"lower_right_y"`
	CenterX     float64 `json:"center_x"`
	CenterY     float64 `json:"center_y"`
	ImageLeft   float64 `json:"image_left"`
	ImageTop    float64 `json:"image_top"`
	ImageWidth  float64 `json:"image_width"`
	ImageHeight float64 `json:"image_height"`
}

type worksSaveRequest struct {
	S               string          `json:"s"`
	Components      []workComponent `json:"components"`
	WorksID         *int64          `json:"works_id"`
	GoodsID         string          `json:"goods_id"`
	Template        *string         `json:"template"`
	TemplatePrice   *string         `json:"template_price"`
	TemplateUserID  *string         `json:"template_user_id"`
	UserID          *int64          `json:"user_id"`
	Platform        int             `json:"platform"`
	ShapeImage      string          `json:"shape_image"`
	ShapeID         string          `json:"shape_id"`
	ShapePrice      string          `json:"shape_price"`
	MachineID       string          `json:"machine_id"`
	Terminal        int             `json:"terminal"`
	BackgroundColor *string         `json:"background_color"`
}

type orderCreateRequest struct {
	S                    string  `json:"s"`
	Type                 int     `json:"type"`
	MachineID            string  `json:"machine_id"`
	GoodsID              string  `json:"goods_id"`
	WorksID              string  `json:"works_id"`
	ChannelNo            *string `json:"channel_no"`
	DictID               *string `json:"dict_id"`
	GoodsSize            *string `json:"goods_size"`
	WorksNum             *int    `json:"works_num"`
	ShopID               *int64  `json:"shop_id"`
	SN                   *string `json:"sn"`
	CouponID             *int64  `json:"coupon_id"`
	UserAddress          *string `json:"user_address"`
	SurfaceType          int     `json:"surface_type"`
	SurfaceID            int     `json:"surface_id"`
	SurfaceColorSeriesID int     `json:"surface_color_series_id"`
	SurfaceColorID       int     `json:"surface_color_id"`
	Language             string  `json:"language"`
	SupportPaypal        string  `json:"support_paypal"`
	PromoterID           string  `json:"promoter_id"`
	Terminal             int     `json:"terminal"`
	CustomizeSizeID      string  `json:"customize_size_id"`
	CreateTime           int64   `json:"create_time"`
	UserID               int64   `json:"user_id"`
}

type machineWaitRequest struct {
	S         string `json:"s"`
	MachineID string `json:"machine_id"`
	Page      int    `json:"page"`
	PerPage   int    `json:"per_page"`
	Total     int    `json:"total"`
}

// buildComponent places the artwork on the surface. The vendor wants the
// corner, center and image rectangles spelled out even though they all
// derive from (left, top, width, height).
func buildComponent(art Artwork) workComponent {
	return workComponent{
		Index:       100,
		FontFamily:  ".ttf",
		FontStyle:   "regular",
		UnderColor:  "#00000000",
		Width:       art.Width,
		Height:      art.Height,
		Top:         art.Top,
		Left:        art.Left,
		Zoom:        art.Zoom,
		Rotate:      art.Rotate,
		Content:     art.ImageURL,
		UpperLeftX:  art.Left,
		UpperLeftY:  art.Top,
		UpperRightX: art.Left + art.Width,
		UpperRightY: art.Top,
		LowerLeftX:  art.Left,
		LowerLeftY:  art.Top + art.Height,
		LowerRightX: art.Left + art.Width,
		LowerRightY: art.Top + art.Height,
		CenterX:     art.Left + art.Width/2,
		CenterY:     art.Top + art.Height/2,
		ImageLeft:   art.Left,
		ImageTop:    art.Top,
		ImageWidth:  art.Width,
		ImageHeight: art.Height,
	}
}
