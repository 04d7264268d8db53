package roomname

var moods = []string{
	"tiny", "happy", "sleepy", "fluffy", "sparkly", "cheery", "silly", "jolly", "cozy", "shiny",
	"brave", "calm", "swift", "quiet", "bouncy", "fuzzy", "plucky", "merry", "peppy", "gentle",
	"curious", "dreamy", "mellow", "nimble", "witty", "zesty", "breezy", "lucky", "snug", "sunny",
}

var colours = []string{
	"amber", "azure", "coral", "crimson", "emerald", "golden", "indigo", "ivory", "jade", "lilac",
	"maroon", "mint", "ochre", "olive", "peach", "plum", "rose", "ruby", "saffron", "sage",
	"scarlet", "silver", "teal", "topaz", "umber", "violet", "cobalt", "copper", "pearl", "slate",
}

var animals = []string{
	"kitten", "puppy", "bunny", "panda", "koala", "fox", "otter", "hedgehog", "squirrel", "hamster",
	"duckling", "fawn", "lamb", "raccoon", "beaver", "seahorse", "dolphin", "narwhal", "penguin", "flamingo",
	"pelican", "sparrow", "robin", "toucan", "parrot", "canary", "badger", "heron", "lynx", "walrus",
}

var things = []string{
	"pancake", "waffle", "ramen", "taco", "dumpling", "noodle", "muffin", "biscuit", "cupcake", "toffee",
	"lantern", "puddle", "pebble", "cottage", "rocket", "comet", "orbit", "nebula", "canyon", "ridge",
	"meadow", "willow", "ember", "breeze", "marble", "thimble", "button", "kettle", "harbor", "glacier",
}
